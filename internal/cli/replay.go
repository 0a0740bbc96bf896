package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/examwatch/examwatch/internal/config"
	"github.com/examwatch/examwatch/internal/export"
	"github.com/examwatch/examwatch/internal/replay"
)

var (
	replayFormat string
	replayOut    string
	replayOrigin string
	replayStrict bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <trace.jsonl>",
	Short: "Replay a recorded observation trace and export the session",
	Long: `Replay applies a JSONL trace, one observation per line, to a fresh engine
on a simulated clock and writes the resulting session as CSV or as a
Markdown report. Use "-" to read the trace from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFormat, "format", "csv", "Output format: csv or report")
	replayCmd.Flags().StringVarP(&replayOut, "out", "o", "", "Output file (default stdout)")
	replayCmd.Flags().StringVar(&replayOrigin, "origin", "", "Wall time of at_ms 0, RFC 3339 (default now)")
	replayCmd.Flags().BoolVar(&replayStrict, "strict", false, "Fail if any trace line was skipped")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayFormat != "csv" && replayFormat != "report" {
		return fmt.Errorf("unknown format %q (want csv or report)", replayFormat)
	}

	origin := time.Now().Truncate(time.Second)
	if replayOrigin != "" {
		t, err := time.Parse(time.RFC3339, replayOrigin)
		if err != nil {
			return fmt.Errorf("invalid --origin: %w", err)
		}
		origin = t
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	res, err := replay.Run(in, cfg, origin)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d line(s), skipped %d\n", res.Applied, len(res.Skipped))
	if replayStrict && len(res.Skipped) > 0 {
		return fmt.Errorf("trace has %d bad line(s), first: %w", len(res.Skipped), res.Skipped[0])
	}

	var out io.Writer = cmd.OutOrStdout()
	if replayOut != "" && replayOut != "-" {
		f, err := os.Create(replayOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if replayFormat == "report" {
		_, err = io.WriteString(out, export.Report(res.Snapshot, origin.Location()))
		return err
	}
	return export.WriteCSV(out, res.Snapshot)
}
