package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/examwatch/examwatch/internal/session"
)

// AttentionConfig holds the face absence and gaze thresholds.
type AttentionConfig struct {
	NoFaceTimeout     time.Duration
	LookAwayThreshold time.Duration
	// DeviationRatio is the nose offset from the eye midpoint, as a fraction
	// of the interocular distance, above which the subject looks away.
	DeviationRatio float64
	// FrameWidth scales normalized coordinates to pixels.
	FrameWidth float64
}

func DefaultAttentionConfig() AttentionConfig {
	return AttentionConfig{
		NoFaceTimeout:     6 * time.Second,
		LookAwayThreshold: 5 * time.Second,
		DeviationRatio:    0.15,
		FrameWidth:        480,
	}
}

// attentionState is the per-session hysteresis state. Zero times mean
// "unset".
type attentionState struct {
	lastFaceSeenAt         time.Time
	lookingAwayStart       time.Time
	lastLookingAwayEventAt time.Time
}

// Attention detects face absence, multiple faces and sustained gaze
// deviation. Not safe for concurrent use; the engine serializes calls.
type Attention struct {
	cfg   AttentionConfig
	state attentionState
}

// NewAttention returns an analyzer whose absence timer starts at start.
func NewAttention(cfg AttentionConfig, start time.Time) *Attention {
	return &Attention{
		cfg:   cfg,
		state: attentionState{lastFaceSeenAt: start},
	}
}

// Observe applies one frame's faces and returns the events it raises, in
// emission order.
func (a *Attention) Observe(now time.Time, obs FaceObservation) ([]session.Event, error) {
	// Validate the whole frame first so a bad face leaves no partial update.
	type refs struct{ left, right, nose Point }
	var primary refs
	for i, f := range obs {
		l, r, n, err := f.References()
		if err != nil {
			return nil, malformed(SignalFaces, i, err)
		}
		if i == 0 {
			primary = refs{l, r, n}
		}
	}

	if len(obs) == 0 {
		if now.Sub(a.state.lastFaceSeenAt) > a.cfg.NoFaceTimeout {
			a.state.lastFaceSeenAt = now
			return []session.Event{
				session.NewEvent(now, session.KindNoFace, fmt.Sprintf("No face detected for >%s", a.cfg.NoFaceTimeout)),
			}, nil
		}
		return nil, nil
	}
	a.state.lastFaceSeenAt = now

	var events []session.Event
	if len(obs) > 1 {
		events = append(events, session.NewEvent(now, session.KindMultiFace, "Multiple faces detected"))
	}

	if a.deviating(primary.left, primary.right, primary.nose) {
		if a.state.lookingAwayStart.IsZero() {
			a.state.lookingAwayStart = now
		}
		if now.Sub(a.state.lookingAwayStart) > a.cfg.LookAwayThreshold &&
			(a.state.lastLookingAwayEventAt.IsZero() || now.Sub(a.state.lastLookingAwayEventAt) > a.cfg.LookAwayThreshold) {
			a.state.lastLookingAwayEventAt = now
			events = append(events, session.NewEvent(now, session.KindLookingAway,
				fmt.Sprintf("User looking away >%s", a.cfg.LookAwayThreshold)))
		}
	} else {
		a.state.lookingAwayStart = time.Time{}
	}
	return events, nil
}

// deviating reports whether the nose is offset from the eye midpoint by
// more than the configured share of the face width.
func (a *Attention) deviating(left, right, nose Point) bool {
	faceWidth := math.Abs(right.X-left.X) * a.cfg.FrameWidth
	eyeMidX := (left.X + right.X) / 2
	dx := math.Abs(nose.X-eyeMidX) * a.cfg.FrameWidth
	return dx > a.cfg.DeviationRatio*faceWidth
}
