package detect

import (
	"time"

	"github.com/examwatch/examwatch/internal/session"
)

type AudioConfig struct {
	RMSThreshold float64
	// Windows is the number of consecutive loud windows that raise an event.
	Windows int
}

func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		RMSThreshold: 0.05,
		Windows:      3,
	}
}

// Audio raises SuspiciousAudio after a run of consecutive loud windows. A
// single quiet window clears the run.
type Audio struct {
	cfg  AudioConfig
	loud int
}

func NewAudio(cfg AudioConfig) *Audio {
	return &Audio{cfg: cfg}
}

func (a *Audio) Observe(now time.Time, sample AudioSample) ([]session.Event, error) {
	rms, err := sample.RMS()
	if err != nil {
		return nil, malformed(SignalAudio, -1, err)
	}
	if rms <= a.cfg.RMSThreshold {
		a.loud = 0
		return nil, nil
	}
	a.loud++
	if a.loud < a.cfg.Windows {
		return nil, nil
	}
	a.loud = 0
	return []session.Event{
		session.NewEvent(now, session.KindSuspiciousAudio, "Suspicious audio detected (voices/noise)"),
	}, nil
}

// Streak returns the current count of consecutive loud windows.
func (a *Audio) Streak() int {
	return a.loud
}
