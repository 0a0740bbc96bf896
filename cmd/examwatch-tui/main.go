package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/examwatch/examwatch/internal/tui/app"
	"github.com/examwatch/examwatch/internal/tui/client"
)

func main() {
	var (
		wsURL     string
		token     string
		exportDir string
	)

	cmd := &cobra.Command{
		Use:   "examwatch-tui",
		Short: "Terminal console for an examwatchd daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("EXAMWATCH_TOKEN")
			}
			ws := client.NewWSClient(wsURL, token)
			defer ws.Close()
			httpClient := client.NewHTTPClient(deriveHTTPBase(wsURL), token)

			m := app.New(ws, httpClient)
			m.ExportDir = exportDir
			_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&wsURL, "url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the examwatchd daemon")
	cmd.Flags().StringVar(&token, "token", "", "Auth token (defaults to $EXAMWATCH_TOKEN)")
	cmd.Flags().StringVar(&exportDir, "export-dir", ".", "Directory exported CSV files are written to")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
