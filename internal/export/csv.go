// Package export renders a session snapshot as the operator's downloadable
// artifacts. Every function here is a pure function of the snapshot.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/examwatch/examwatch/internal/session"
)

// ISOMillis is the event timestamp layout used in CSV rows.
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{"candidate", "duration_sec", "time_iso", "event"}

// WriteCSV writes one row per event under the header
// candidate,duration_sec,time_iso,event.
func WriteCSV(w io.Writer, s session.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	name := candidateName(s)
	duration := strconv.FormatInt(s.DurationMs/1000, 10)
	for _, ev := range s.Events {
		row := []string{name, duration, ev.Time.UTC().Format(ISOMillis), ev.Message}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV is WriteCSV into a string.
func CSV(s session.Snapshot) (string, error) {
	var b strings.Builder
	if err := WriteCSV(&b, s); err != nil {
		return "", err
	}
	return b.String(), nil
}

// FileName returns the download name for an artifact, e.g.
// "Ada_Lovelace_report.csv".
func FileName(s session.Snapshot, ext string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '_'
		}
		return -1
	}, candidateName(s))
	if name == "" {
		name = session.DefaultCandidateName
	}
	return name + "_report." + strings.TrimPrefix(ext, ".")
}

func candidateName(s session.Snapshot) string {
	if s.CandidateName == "" {
		return session.DefaultCandidateName
	}
	return s.CandidateName
}

// FormatDuration renders a duration as mm:ss; minutes are not wrapped.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return pad2(secs/60) + ":" + pad2(secs%60)
}

func pad2(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}
