package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/examwatch/examwatch/internal/session"
)

// Report renders the Markdown proctoring report. Event times are shown as
// HH:MM:SS in loc; nil means UTC.
func Report(s session.Snapshot, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	b.WriteString("# Proctoring Report\n\n")
	fmt.Fprintf(&b, "- **Candidate:** %s\n", escape(candidateName(s)))
	fmt.Fprintf(&b, "- **Duration:** %s\n", FormatDuration(time.Duration(s.DurationMs)*time.Millisecond))
	fmt.Fprintf(&b, "- **Focus lost:** %d\n", s.Counters.FocusLost)
	fmt.Fprintf(&b, "- **Suspicious events:** %d\n", s.Counters.Suspicious)
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Started:** %s\n", s.StartedAt.In(loc).Format(time.RFC3339))
	}
	b.WriteString("\n## Event Logs\n\n")

	if len(s.Events) == 0 {
		b.WriteString("_No events recorded._\n")
		return b.String()
	}
	for _, ev := range s.Events {
		line := fmt.Sprintf("[%s] %s", ev.Time.In(loc).Format("15:04:05"), escape(ev.Message))
		if ev.IsAlert {
			line = "**" + line + "**"
		}
		b.WriteString("- " + line + "\n")
	}
	return b.String()
}

var mdEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`)

func escape(s string) string {
	return mdEscaper.Replace(s)
}
