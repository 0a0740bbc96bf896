package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/examwatch/examwatch/internal/config"
	"github.com/examwatch/examwatch/internal/mock"
	"github.com/examwatch/examwatch/internal/monitor"
	"github.com/examwatch/examwatch/internal/session"
	"github.com/examwatch/examwatch/internal/ws"
)

var (
	serveMock      string
	servePort      int
	serveToken     string
	serveCandidate string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proctoring engine with its HTTP and WebSocket API",
	Long: `Serve runs the monitoring engine behind the HTTP API. Observations are
posted by the capture front end, or generated by a scripted candidate with
--mock. The config file is reloaded on change and on SIGHUP; detector
settings apply from the next session start.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveMock, "mock", "", "Drive sessions with a scripted candidate (attentive, wanderer, phone, chatter, crowd, absent)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override server port")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Override API auth token")
	serveCmd.Flags().StringVar(&serveCandidate, "candidate", "", "Start a session for this candidate immediately")
	rootCmd.AddCommand(serveCmd)
}

// daemon holds the wired components so reloads can reach them.
type daemon struct {
	engine      *monitor.Engine
	broadcaster *ws.Broadcaster
	server      *ws.Server
	pump        *monitor.Pump

	mu  sync.Mutex
	cfg *config.Config
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyOverrides(cfg)
	if err := ensureToken(cfg, ""); err != nil {
		return err
	}

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.broadcaster.Stop()

	if _, err := os.Stat(configPath); err == nil {
		go func() {
			if err := config.Watch(ctx, configPath, config.DefaultWatchDebounce, d.reload); err != nil {
				log.Printf("[config] watch disabled: %v", err)
			}
		}()
	}
	go d.reloadOnHangup(ctx)

	if serveCandidate != "" {
		if _, err := d.engine.Start(serveCandidate); err != nil {
			return fmt.Errorf("starting session: %w", err)
		}
	}

	err = ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, d.server.Handler())

	log.Println("Shutting down...")
	if d.engine.State() == session.Running {
		if _, stopErr := d.engine.Stop(); stopErr != nil {
			log.Printf("[monitor] stop on shutdown: %v", stopErr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func applyOverrides(cfg *config.Config) {
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveToken != "" {
		cfg.Server.AuthToken = serveToken
	}
}

// ensureToken generates an auth token when the server listens beyond
// loopback without one. prev is reused if set so a reload does not rotate
// the token clients already hold.
func ensureToken(cfg *config.Config, prev string) error {
	if cfg.Server.AuthToken != "" || isLoopback(cfg.Server.Host) {
		return nil
	}
	if prev != "" {
		cfg.Server.AuthToken = prev
		return nil
	}
	token, err := config.GenerateToken()
	if err != nil {
		return fmt.Errorf("generating auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	log.Printf("[server] listening beyond loopback without a token; generated one: %s", token)
	return nil
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	engine := monitor.NewEngine(cfg, nil)
	b := ws.NewBroadcaster(engine, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval, cfg.Broadcast.MaxClients)
	b.SetPrivacyFilter(cfg.Privacy.NewPrivacyFilter())
	engine.Subscribe(b)
	engine.SubscribeAlerts(monitor.AlertFunc(func(ev session.Event) {
		log.Printf("[alert] %s", ev.Message)
	}))

	d := &daemon{
		engine:      engine,
		broadcaster: b,
		server:      ws.NewServer(engine, b, cfg.Server.AllowedOrigins, cfg.Server.AuthToken),
		cfg:         cfg,
	}

	if serveMock != "" {
		pattern, err := mock.ParsePattern(serveMock)
		if err != nil {
			return nil, err
		}
		candidate := mock.NewCandidate(pattern, time.Now().UnixNano())
		d.pump = monitor.NewPump(engine, candidate.Producers(), cfg.Pump)
		engine.AddCapture(candidate)
		engine.AddCapture(d.pump)
		log.Printf("Starting in mock mode (%s candidate)", pattern)
	} else {
		log.Println("Starting in real mode (observations via /api/observe)")
	}
	return d, nil
}

// reload applies a new config. Port and host changes need a restart.
func (d *daemon) reload(next *config.Config) {
	applyOverrides(next)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ensureToken(next, d.cfg.Server.AuthToken); err != nil {
		log.Printf("[config] reload rejected: %v", err)
		return
	}

	changes := config.Diff(d.cfg, next)
	if len(changes) == 0 {
		log.Printf("[config] reloaded, no changes")
		return
	}
	for _, c := range changes {
		log.Printf("[config] %s", c)
	}
	if next.Server.Port != d.cfg.Server.Port || next.Server.Host != d.cfg.Server.Host {
		log.Printf("[config] listen address changes take effect after restart")
	}

	d.engine.SetConfig(next)
	d.broadcaster.SetPrivacyFilter(next.Privacy.NewPrivacyFilter())
	d.broadcaster.SetConfig(next.Broadcast.Throttle, next.Broadcast.SnapshotInterval, next.Broadcast.MaxClients)
	d.server.SetAccess(next.Server.AllowedOrigins, next.Server.AuthToken)
	if d.pump != nil {
		d.pump.SetConfig(next.Pump)
	}
	d.cfg = next
}

func (d *daemon) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				log.Printf("[config] SIGHUP reload failed: %v", err)
				continue
			}
			log.Printf("[config] SIGHUP received, reloading %s", configPath)
			d.reload(cfg)
		}
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
