// Package replay applies a recorded JSONL observation trace to an engine
// running on a manual clock, producing the same event log a live session
// with those observations would have produced.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/examwatch/examwatch/internal/clock"
	"github.com/examwatch/examwatch/internal/config"
	"github.com/examwatch/examwatch/internal/detect"
	"github.com/examwatch/examwatch/internal/monitor"
	"github.com/examwatch/examwatch/internal/session"
)

const maxLineBytes = 16 << 20

// Record types.
const (
	TypeStart   = "start"
	TypeStop    = "stop"
	TypeFaces   = "faces"
	TypeObjects = "objects"
	TypeAudio   = "audio"
)

// Record is one trace line. AtMs is relative to the trace origin and must
// not decrease.
type Record struct {
	AtMs          int64                    `json:"at_ms"`
	Type          string                   `json:"type"`
	CandidateName string                   `json:"candidateName,omitempty"`
	Faces         detect.FaceObservation   `json:"faces,omitempty"`
	Detections    detect.ObjectObservation `json:"detections,omitempty"`
	Audio         *detect.AudioSample      `json:"audio,omitempty"`
}

// LineError reports a trace line that was skipped.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Result is the outcome of a replay.
type Result struct {
	Snapshot session.Snapshot
	Applied  int
	Skipped  []*LineError
}

// Run replays the trace in r. Malformed or rejected lines are logged,
// collected in Result.Skipped and otherwise ignored. A session still running
// at the end of the trace is stopped at the last timestamp. Only a read
// failure returns an error.
func Run(r io.Reader, cfg *config.Config, origin time.Time) (*Result, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	clk := clock.NewManual(origin)
	engine := monitor.NewEngine(cfg, clk)
	res := &Result{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	var lastAt int64
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec Record
		err := json.Unmarshal(line, &rec)
		if err == nil {
			err = validate(rec, lastAt)
		}
		if err == nil {
			lastAt = rec.AtMs
			clk.Set(origin.Add(time.Duration(rec.AtMs) * time.Millisecond))
			err = apply(engine, rec)
		}
		if err != nil {
			le := &LineError{Line: lineNo, Err: err}
			log.Printf("[replay] skipping %v", le)
			res.Skipped = append(res.Skipped, le)
			continue
		}
		res.Applied++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace at line %d: %w", lineNo+1, err)
	}

	if engine.State() == session.Running {
		if _, err := engine.Stop(); err != nil {
			return nil, fmt.Errorf("stopping replayed session: %w", err)
		}
	}
	res.Snapshot = engine.Snapshot()
	return res, nil
}

func validate(rec Record, lastAt int64) error {
	switch rec.Type {
	case TypeStart, TypeStop, TypeFaces, TypeObjects, TypeAudio:
	case "":
		return errors.New("missing type")
	default:
		return fmt.Errorf("unknown type %q", rec.Type)
	}
	if rec.AtMs < 0 {
		return fmt.Errorf("negative at_ms %d", rec.AtMs)
	}
	if rec.AtMs < lastAt {
		return fmt.Errorf("at_ms %d goes back in time (previous %d)", rec.AtMs, lastAt)
	}
	return nil
}

func apply(e *monitor.Engine, rec Record) error {
	switch rec.Type {
	case TypeStart:
		_, err := e.Start(rec.CandidateName)
		return err
	case TypeStop:
		_, err := e.Stop()
		return err
	case TypeFaces:
		return e.ObserveFaces("", rec.Faces)
	case TypeObjects:
		return e.ObserveObjects("", rec.Detections)
	case TypeAudio:
		if rec.Audio == nil {
			return e.ObserveAudio("", detect.AudioSample{})
		}
		return e.ObserveAudio("", *rec.Audio)
	}
	return nil
}
