package monitor

import (
	"time"

	"github.com/examwatch/examwatch/internal/detect"
)

// HealthStatus indicates a signal's health.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// SignalHealth reports the health of one observation stream.
type SignalHealth struct {
	Signal           detect.Signal `json:"signal"`
	Status           HealthStatus  `json:"status"`
	ProducerFailures int           `json:"producerFailures"`
	MalformedStreak  int           `json:"malformedStreak"`
	Dropped          int64         `json:"dropped"`
	LastError        string        `json:"lastError,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

var signals = []detect.Signal{detect.SignalFaces, detect.SignalObjects, detect.SignalAudio}

// signalHealth tracks consecutive failures for a single signal. A producer
// that cannot deliver counts toward failed; a producer that delivers
// malformed observations counts toward degraded. Guarded by Engine.mu.
type signalHealth struct {
	producerFailures  int
	lastProducerErr   string
	lastProducerFail  time.Time
	malformedStreak   int
	lastMalformedErr  string
	lastMalformedFail time.Time
	dropped           int64
	lastEmittedStatus HealthStatus
}

func newSignalHealth() *signalHealth {
	return &signalHealth{lastEmittedStatus: StatusHealthy}
}

func (h *signalHealth) recordSuccess() {
	h.producerFailures = 0
	h.lastProducerErr = ""
	h.malformedStreak = 0
	h.lastMalformedErr = ""
}

func (h *signalHealth) recordProducerFailure(now time.Time, err error) {
	h.producerFailures++
	h.lastProducerErr = err.Error()
	h.lastProducerFail = now
}

func (h *signalHealth) recordMalformed(now time.Time, err error) {
	// The producer delivered, so it is reachable.
	h.producerFailures = 0
	h.lastProducerErr = ""
	h.malformedStreak++
	h.lastMalformedErr = err.Error()
	h.lastMalformedFail = now
}

func (h *signalHealth) status(threshold int) HealthStatus {
	if h.producerFailures >= threshold {
		return StatusFailed
	}
	if h.malformedStreak >= threshold {
		return StatusDegraded
	}
	return StatusHealthy
}

// lastError prefers whichever failure happened more recently.
func (h *signalHealth) lastError() string {
	if h.lastProducerErr != "" && (h.lastMalformedErr == "" || h.lastProducerFail.After(h.lastMalformedFail)) {
		return h.lastProducerErr
	}
	return h.lastMalformedErr
}

func (h *signalHealth) snapshot(sig detect.Signal, threshold int, now time.Time) SignalHealth {
	return SignalHealth{
		Signal:           sig,
		Status:           h.status(threshold),
		ProducerFailures: h.producerFailures,
		MalformedStreak:  h.malformedStreak,
		Dropped:          h.dropped,
		LastError:        h.lastError(),
		Timestamp:        now,
	}
}

// snapshotAndEmit returns the current health and whether its status changed
// since the last emission, recording the new status as emitted.
func (h *signalHealth) snapshotAndEmit(sig detect.Signal, threshold int, now time.Time) (SignalHealth, bool) {
	snap := h.snapshot(sig, threshold, now)
	changed := snap.Status != h.lastEmittedStatus
	if changed {
		h.lastEmittedStatus = snap.Status
	}
	return snap, changed
}
