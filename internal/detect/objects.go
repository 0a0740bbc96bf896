package detect

import (
	"strings"
	"time"

	"github.com/examwatch/examwatch/internal/session"
)

// DefaultProhibitedClasses are the COCO class names treated as aids.
var DefaultProhibitedClasses = []string{
	"cell phone", "book", "laptop", "tv", "tablet", "keyboard", "mouse", "remote",
}

type ObjectConfig struct {
	MinConfidence     float64
	ProhibitedClasses []string
}

func DefaultObjectConfig() ObjectConfig {
	classes := make([]string, len(DefaultProhibitedClasses))
	copy(classes, DefaultProhibitedClasses)
	return ObjectConfig{
		MinConfidence:     0.5,
		ProhibitedClasses: classes,
	}
}

// ObjectPolicy flags prohibited objects. It keeps no state between cycles:
// an object that stays in view is reported on every cycle.
type ObjectPolicy struct {
	minConfidence float64
	prohibited    map[string]bool
}

func NewObjectPolicy(cfg ObjectConfig) *ObjectPolicy {
	p := &ObjectPolicy{
		minConfidence: cfg.MinConfidence,
		prohibited:    make(map[string]bool, len(cfg.ProhibitedClasses)),
	}
	for _, c := range cfg.ProhibitedClasses {
		p.prohibited[normalizeClass(c)] = true
	}
	return p
}

// Prohibited reports whether className is on the policy list.
func (p *ObjectPolicy) Prohibited(className string) bool {
	return p.prohibited[normalizeClass(className)]
}

// Observe returns one SuspiciousObject event per qualifying detection.
func (p *ObjectPolicy) Observe(now time.Time, obs ObjectObservation) ([]session.Event, error) {
	for i, d := range obs {
		if err := d.validate(); err != nil {
			return nil, malformed(SignalObjects, i, err)
		}
	}

	var events []session.Event
	for _, d := range obs {
		if d.Confidence < p.minConfidence || !p.Prohibited(d.ClassName) {
			continue
		}
		events = append(events, session.NewEvent(now, session.KindSuspiciousObject,
			"Suspicious object: "+normalizeClass(d.ClassName)))
	}
	return events, nil
}

func normalizeClass(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
