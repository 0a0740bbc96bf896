package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/examwatch/examwatch/internal/config"
	"github.com/examwatch/examwatch/internal/detect"
)

// ObservationSink is the engine surface the pump feeds.
type ObservationSink interface {
	ObserveFaces(sessionID string, obs detect.FaceObservation) error
	ObserveObjects(sessionID string, obs detect.ObjectObservation) error
	ObserveAudio(sessionID string, sample detect.AudioSample) error
	ReportSourceError(sessionID string, sig detect.Signal, err error)
}

// Pump is the sampling Capture: while a session runs it polls each producer
// on its own goroutine at that producer's cadence and forwards the result,
// tagged with the session id, to the sink.
type Pump struct {
	sink      ObservationSink
	producers Producers

	mu     sync.Mutex
	cfg    config.PumpConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPump(sink ObservationSink, producers Producers, cfg config.PumpConfig) *Pump {
	return &Pump{
		sink:      sink,
		producers: producers,
		cfg:       cfg,
	}
}

// SetConfig replaces the cadences used from the next StartCapture on.
func (p *Pump) SetConfig(cfg config.PumpConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

func (p *Pump) StartCapture(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("pump already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if src := p.producers.Faces; src != nil {
		p.run(ctx, sessionID, detect.SignalFaces, p.cfg.FrameInterval, func(ctx context.Context) error {
			obs, err := src.NextFaces(ctx)
			if err != nil {
				return err
			}
			return p.sink.ObserveFaces(sessionID, obs)
		})
	}
	if det := p.producers.Objects; det != nil {
		p.run(ctx, sessionID, detect.SignalObjects, p.cfg.ObjectInterval, func(ctx context.Context) error {
			obs, err := det.DetectObjects(ctx)
			if err != nil {
				return err
			}
			return p.sink.ObserveObjects(sessionID, obs)
		})
	}
	if smp := p.producers.Audio; smp != nil {
		p.run(ctx, sessionID, detect.SignalAudio, p.cfg.AudioInterval, func(ctx context.Context) error {
			sample, err := smp.SampleAudio(ctx)
			if err != nil {
				return err
			}
			return p.sink.ObserveAudio(sessionID, sample)
		})
	}

	log.Printf("[pump] started for session %s (frame %s, objects %s, audio %s)",
		sessionID, p.cfg.FrameInterval, p.cfg.ObjectInterval, p.cfg.AudioInterval)
	return nil
}

// StopCapture cancels every producer loop and waits for them to exit.
func (p *Pump) StopCapture() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	p.wg.Wait()
	log.Printf("[pump] stopped")
	return nil
}

// run starts one producer loop. Caller must hold p.mu.
func (p *Pump) run(ctx context.Context, sessionID string, sig detect.Signal, interval time.Duration, tick func(context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick(ctx, sessionID, sig, tick)
			}
		}
	}()
}

func (p *Pump) tick(ctx context.Context, sessionID string, sig detect.Signal, tick func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.sink.ReportSourceError(sessionID, sig, fmt.Errorf("producer panic: %v", r))
		}
	}()

	err := tick(ctx)
	var malformed *detect.MalformedObservationError
	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, ErrNotRunning), errors.As(err, &malformed):
		// Already accounted for by the engine.
	default:
		p.sink.ReportSourceError(sessionID, sig, err)
	}
}
