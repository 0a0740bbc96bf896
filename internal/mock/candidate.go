// Package mock provides scripted synthetic candidates for demo mode. Each
// candidate implements the three producer interfaces with a deterministic,
// cyclic pattern so the dashboard shows every alert kind without a camera.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/examwatch/examwatch/internal/detect"
	"github.com/examwatch/examwatch/internal/monitor"
)

// Pattern names a scripted behavior.
type Pattern string

const (
	Attentive Pattern = "attentive"
	Wanderer  Pattern = "wanderer"
	Phone     Pattern = "phone"
	Chatter   Pattern = "chatter"
	Crowd     Pattern = "crowd"
	Absent    Pattern = "absent"
)

// Patterns lists every scripted behavior.
var Patterns = []Pattern{Attentive, Wanderer, Phone, Chatter, Crowd, Absent}

// ParsePattern looks up a pattern by name.
func ParsePattern(name string) (Pattern, error) {
	for _, p := range Patterns {
		if string(p) == name {
			return p, nil
		}
	}
	names := make([]string, len(Patterns))
	for i, p := range Patterns {
		names[i] = string(p)
	}
	sort.Strings(names)
	return "", fmt.Errorf("unknown mock pattern %q (want one of %v)", name, names)
}

// Cycle lengths, in producer ticks. At the default cadences a frame cycle is
// 20s, an object cycle 12s and an audio cycle 18s.
const (
	frameCycle  = 200
	objectCycle = 8
	audioCycle  = 6
)

// Reference geometry in normalized coordinates. A nose offset of 0.06 from
// the eye midpoint is twice the default deviation threshold.
const (
	eyeY       = 0.40
	leftEyeX   = 0.40
	rightEyeX  = 0.60
	noseY      = 0.50
	turnedNose = 0.06
	jitter     = 0.004
)

// Candidate is a scripted test taker. Safe for concurrent use by the pump's
// per-producer goroutines.
type Candidate struct {
	pattern Pattern

	mu     sync.Mutex
	rng    *rand.Rand
	frame  int
	cycle  int
	window int
}

// NewCandidate returns a candidate following p. The same seed always
// produces the same observations.
func NewCandidate(p Pattern, seed int64) *Candidate {
	return &Candidate{
		pattern: p,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (c *Candidate) Pattern() Pattern { return c.pattern }

// Producers wires the candidate into a pump.
func (c *Candidate) Producers() monitor.Producers {
	return monitor.Producers{Faces: c, Objects: c, Audio: c}
}

// Reset rewinds every producer to the start of its cycle.
func (c *Candidate) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame, c.cycle, c.window = 0, 0, 0
}

// StartCapture rewinds the script so every session sees it from the top.
func (c *Candidate) StartCapture(ctx context.Context, sessionID string) error {
	c.Reset()
	return nil
}

func (c *Candidate) StopCapture() error { return nil }

func (c *Candidate) NextFaces(ctx context.Context) (detect.FaceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tick := c.frame % frameCycle
	c.frame++

	switch c.pattern {
	case Wanderer:
		// 12s facing the screen, then 8s turned away.
		if tick >= 120 {
			return detect.FaceObservation{c.face(0, turnedNose)}, nil
		}
	case Crowd:
		// A second person leans in for 3s.
		if tick >= 150 && tick < 180 {
			return detect.FaceObservation{c.face(0, 0), c.face(0.3, 0)}, nil
		}
	case Absent:
		// Present for 5s, then gone for 15s.
		if tick >= 50 {
			return detect.FaceObservation{}, nil
		}
	}
	return detect.FaceObservation{c.face(0, 0)}, nil
}

func (c *Candidate) DetectObjects(ctx context.Context) (detect.ObjectObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tick := c.cycle % objectCycle
	c.cycle++

	obs := detect.ObjectObservation{c.detection("person", 0.95, 120, 60)}
	switch c.pattern {
	case Phone:
		if tick >= 3 && tick < 6 {
			obs = append(obs, c.detection("cell phone", 0.87, 300, 280))
		}
		if tick == 6 {
			// Seen, but not confidently enough to count.
			obs = append(obs, c.detection("cell phone", 0.31, 300, 280))
		}
	case Crowd:
		if tick == 2 {
			obs = append(obs, c.detection("book", 0.72, 40, 300))
		}
	case Attentive:
		obs = append(obs, c.detection("cup", 0.8, 380, 320))
	}
	return obs, nil
}

func (c *Candidate) SampleAudio(ctx context.Context) (detect.AudioSample, error) {
	if err := ctx.Err(); err != nil {
		return detect.AudioSample{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tick := c.window % audioCycle
	c.window++

	amplitude := 0.01
	switch c.pattern {
	case Chatter:
		// Four loud windows in a row, then quiet.
		if tick < 4 {
			amplitude = 0.2
		}
	case Crowd:
		if tick == 0 {
			amplitude = 0.12
		}
	}
	return c.tone(amplitude), nil
}

// face returns one face offset horizontally by dx with the nose turned by
// turn. Caller must hold c.mu.
func (c *Candidate) face(dx, turn float64) detect.Face {
	j := func() float64 { return (c.rng.Float64()*2 - 1) * jitter }
	left := detect.Point{X: leftEyeX + dx + j(), Y: eyeY + j()}
	right := detect.Point{X: rightEyeX + dx + j(), Y: eyeY + j()}
	nose := detect.Point{X: (leftEyeX+rightEyeX)/2 + dx + turn + j(), Y: noseY + j()}
	return detect.Face{LeftEye: &left, RightEye: &right, Nose: &nose}
}

// detection returns a detection with a slightly wandering box. Caller must
// hold c.mu.
func (c *Candidate) detection(class string, confidence, x, y float64) detect.Detection {
	return detect.Detection{
		ClassName:  class,
		Confidence: confidence,
		BoundingBox: detect.BoundingBox{
			X:      x + c.rng.Float64()*4,
			Y:      y + c.rng.Float64()*4,
			Width:  80,
			Height: 60,
		},
	}
}

// tone returns a 256-sample sine window whose RMS is amplitude/√2 plus a
// little noise. Caller must hold c.mu.
func (c *Candidate) tone(amplitude float64) detect.AudioSample {
	samples := make([]float64, 256)
	for i := range samples {
		noise := (c.rng.Float64()*2 - 1) * 0.002
		samples[i] = amplitude*math.Sin(2*math.Pi*float64(i)/32) + noise
	}
	return detect.AudioSample{Samples: samples}
}
