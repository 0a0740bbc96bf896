package monitor

import (
	"context"

	"github.com/examwatch/examwatch/internal/detect"
)

// FaceSource delivers face-landmark observations from the camera pipeline.
// The landmark model itself lives outside this module; a FaceSource only
// adapts its output into detect.FaceObservation.
//
// Implementations are called from a single pump goroutine per session and
// do not need to be safe for concurrent use.
type FaceSource interface {
	// NextFaces returns the faces found in the most recent frame. An empty
	// observation means the frame was analyzed and no face was found; an
	// error means no frame could be analyzed this tick.
	NextFaces(ctx context.Context) (detect.FaceObservation, error)
}

// ObjectDetector runs one object-detection cycle over the current frame.
type ObjectDetector interface {
	DetectObjects(ctx context.Context) (detect.ObjectObservation, error)
}

// AudioSampler captures one time-domain window from the microphone.
type AudioSampler interface {
	SampleAudio(ctx context.Context) (detect.AudioSample, error)
}

// Capture is a media collaborator started and stopped with each session,
// e.g. the sampling pump or a recorder.
type Capture interface {
	// StartCapture begins acquisition for sessionID. An error aborts the
	// session start.
	StartCapture(ctx context.Context, sessionID string) error
	// StopCapture halts acquisition and releases resources. It is called
	// after the session has stopped; errors are logged only.
	StopCapture() error
}

// Producers groups the optional observation producers driven by the pump.
// Nil fields are skipped.
type Producers struct {
	Faces   FaceSource
	Objects ObjectDetector
	Audio   AudioSampler
}
