// Package detect turns raw sensor observations into candidate session
// events. Each analyzer owns its own hysteresis state; none of them share
// mutable state or know about the engine that feeds them.
package detect

import (
	"fmt"
	"math"
)

// Signal names an observation stream.
type Signal string

const (
	SignalFaces   Signal = "faces"
	SignalObjects Signal = "objects"
	SignalAudio   Signal = "audio"
)

// Face mesh indices of the reference landmarks in a 468/478 point mesh.
const (
	MeshLeftEye  = 33
	MeshRightEye = 263
	MeshNose     = 1
)

// Point is a landmark in normalized frame coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Face is one detected face. The reference points may be given explicitly
// or taken from a full landmark mesh.
type Face struct {
	LeftEye  *Point  `json:"leftEye,omitempty"`
	RightEye *Point  `json:"rightEye,omitempty"`
	Nose     *Point  `json:"nose,omitempty"`
	Mesh     []Point `json:"mesh,omitempty"`
}

// References returns the left-eye, right-eye and nose points.
func (f Face) References() (left, right, nose Point, err error) {
	switch {
	case f.LeftEye != nil && f.RightEye != nil && f.Nose != nil:
		left, right, nose = *f.LeftEye, *f.RightEye, *f.Nose
	case len(f.Mesh) > MeshRightEye:
		left, right, nose = f.Mesh[MeshLeftEye], f.Mesh[MeshRightEye], f.Mesh[MeshNose]
	default:
		return Point{}, Point{}, Point{}, fmt.Errorf("missing reference landmarks (mesh has %d points)", len(f.Mesh))
	}
	if !left.finite() || !right.finite() || !nose.finite() {
		return Point{}, Point{}, Point{}, fmt.Errorf("non-finite landmark coordinates")
	}
	return left, right, nose, nil
}

// FaceObservation is the set of faces found in one analyzed frame.
type FaceObservation []Face

// BoundingBox is in frame pixels: origin plus size.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Detection struct {
	ClassName   string      `json:"className"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

func (d Detection) validate() error {
	if d.ClassName == "" {
		return fmt.Errorf("empty class name")
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", d.Confidence)
	}
	return nil
}

// ObjectObservation is the result of one object-detection cycle.
type ObjectObservation []Detection

// AudioSample is one sampling window of time-domain amplitudes. Exactly one
// of Samples (float, midpoint 0) or PCM8 (unsigned bytes, midpoint 128) is
// expected; Samples wins when both are set.
type AudioSample struct {
	Samples []float64 `json:"samples,omitempty"`
	PCM8    []uint8   `json:"pcm8,omitempty"`
}

// RMS returns the root-mean-square energy of the window in [0,1].
func (s AudioSample) RMS() (float64, error) {
	var sum float64
	var n int
	switch {
	case len(s.Samples) > 0:
		for _, v := range s.Samples {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("non-finite sample")
			}
			sum += v * v
		}
		n = len(s.Samples)
	case len(s.PCM8) > 0:
		for _, b := range s.PCM8 {
			v := (float64(b) - 128) / 128
			sum += v * v
		}
		n = len(s.PCM8)
	default:
		return 0, fmt.Errorf("empty sample buffer")
	}
	rms := math.Sqrt(sum / float64(n))
	if rms > 1 {
		rms = 1
	}
	return rms, nil
}
