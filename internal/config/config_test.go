package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/examwatch/examwatch/internal/session"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
  host: "0.0.0.0"
session:
  no_face_timeout: 8s
  prohibited_classes:
    - "cell phone"
    - "calculator"
pump:
  object_interval: 2s
privacy:
  mask_candidate_names: true
  hidden_kinds:
    - suspicious_audio
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Session.NoFaceTimeout != 8*time.Second {
		t.Errorf("Session.NoFaceTimeout = %v, want 8s", cfg.Session.NoFaceTimeout)
	}
	if len(cfg.Session.ProhibitedClasses) != 2 || cfg.Session.ProhibitedClasses[1] != "calculator" {
		t.Errorf("Session.ProhibitedClasses = %v", cfg.Session.ProhibitedClasses)
	}
	if cfg.Pump.ObjectInterval != 2*time.Second {
		t.Errorf("Pump.ObjectInterval = %v, want 2s", cfg.Pump.ObjectInterval)
	}
	if !cfg.Privacy.MaskCandidateNames {
		t.Error("Privacy.MaskCandidateNames = false, want true")
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Session.LookAwayThreshold != 5*time.Second {
		t.Errorf("Session.LookAwayThreshold = %v, want default 5s", cfg.Session.LookAwayThreshold)
	}
	if cfg.Pump.AudioInterval != 3*time.Second {
		t.Errorf("Pump.AudioInterval = %v, want default 3s", cfg.Pump.AudioInterval)
	}
	if cfg.Sound.MasterVolume != 1.0 {
		t.Errorf("Sound.MasterVolume = %f, want 1.0", cfg.Sound.MasterVolume)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Session.NoFaceTimeout != 6*time.Second {
		t.Errorf("Session.NoFaceTimeout = %v, want 6s", cfg.Session.NoFaceTimeout)
	}
	if cfg.Session.AudioWindows != 3 {
		t.Errorf("Session.AudioWindows = %d, want 3", cfg.Session.AudioWindows)
	}
	if cfg.Pump.ObjectInterval != 1500*time.Millisecond {
		t.Errorf("Pump.ObjectInterval = %v, want 1.5s", cfg.Pump.ObjectInterval)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestLoadOrDefaultInvalidFileIsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("pump:\n  frame_interval: 0s\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrDefault(cfgPath); err == nil {
		t.Fatal("LoadOrDefault() should surface validation errors")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero frame interval", func(c *Config) { c.Pump.FrameInterval = 0 }, "pump.frame_interval"},
		{"negative timeout", func(c *Config) { c.Session.NoFaceTimeout = -time.Second }, "session.no_face_timeout"},
		{"confidence above one", func(c *Config) { c.Session.MinConfidence = 1.2 }, "session.min_confidence"},
		{"no audio windows", func(c *Config) { c.Session.AudioWindows = 0 }, "session.audio_windows"},
		{"zero frame width", func(c *Config) { c.Session.FrameWidth = 0 }, "session.frame_width"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown hidden kind", func(c *Config) { c.Privacy.HiddenKinds = []string{"bogus"} }, "privacy.hidden_kinds"},
		{"zero health threshold", func(c *Config) { c.Health.FailureThreshold = 0 }, "health.failure_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestSessionConfigToDetectors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Session.LookAwayThreshold = 7 * time.Second
	cfg.Session.AudioWindows = 4

	if got := cfg.Session.Attention().LookAwayThreshold; got != 7*time.Second {
		t.Errorf("Attention().LookAwayThreshold = %v", got)
	}
	if got := cfg.Session.Audio().Windows; got != 4 {
		t.Errorf("Audio().Windows = %d", got)
	}

	objs := cfg.Session.Objects()
	objs.ProhibitedClasses[0] = "changed"
	if cfg.Session.ProhibitedClasses[0] == "changed" {
		t.Error("Objects() shares the prohibited class slice")
	}
}

func TestNewPrivacyFilter(t *testing.T) {
	pc := PrivacyConfig{
		MaskCandidateNames: true,
		HiddenKinds:        []string{"suspicious_audio", "looking_away"},
	}

	pf := pc.NewPrivacyFilter()

	if !pf.MaskCandidateNames {
		t.Error("MaskCandidateNames not copied")
	}
	if len(pf.HiddenKinds) != 2 || pf.HiddenKinds[0] != session.KindSuspiciousAudio || pf.HiddenKinds[1] != session.KindLookingAway {
		t.Errorf("HiddenKinds = %v", pf.HiddenKinds)
	}
}

func TestNewPrivacyFilterZeroValue(t *testing.T) {
	pc := PrivacyConfig{}
	pf := pc.NewPrivacyFilter()

	if !pf.IsNoop() {
		t.Error("zero-value PrivacyConfig should produce a noop filter")
	}
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if len(tok) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("token length = %d, want 32", len(tok))
	}

	tok2, _ := GenerateToken()
	if tok == tok2 {
		t.Error("two generated tokens should not be identical")
	}
}

func TestDiffNoChanges(t *testing.T) {
	a := defaultConfig()
	b := defaultConfig()
	if changes := Diff(a, b); len(changes) != 0 {
		t.Errorf("Diff of identical configs = %v, want empty", changes)
	}
}

func TestDiffDetectsChanges(t *testing.T) {
	old := defaultConfig()
	new := defaultConfig()

	new.Session.NoFaceTimeout = 10 * time.Second
	new.Pump.AudioInterval = 2 * time.Second
	new.Privacy.MaskCandidateNames = true
	new.Privacy.HiddenKinds = []string{"multi_face"}

	found := map[string]bool{}
	for _, c := range Diff(old, new) {
		found[c] = true
	}

	want := []string{
		"session.no_face_timeout: 6s → 10s",
		"pump.audio_interval: 3s → 2s",
		"privacy.mask_candidate_names: false → true",
		"privacy.hidden_kinds: [] → [multi_face]",
	}
	for _, w := range want {
		if !found[w] {
			t.Errorf("Missing expected change: %q\nGot: %v", w, found)
		}
	}
}

func TestDiffHidesAuthToken(t *testing.T) {
	old := defaultConfig()
	new := defaultConfig()
	new.Server.AuthToken = "s3cret"

	changes := Diff(old, new)
	if len(changes) != 1 || changes[0] != "server.auth_token: changed" {
		t.Fatalf("Diff = %v, want [server.auth_token: changed]", changes)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 9000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, cfgPath, 20*time.Millisecond, func(c *Config) { got <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 9001\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.Server.Port != 9001 {
			t.Errorf("reloaded port = %d, want 9001", cfg.Server.Port)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchSkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  port: 9000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, cfgPath, 20*time.Millisecond, func(c *Config) { got <- c })

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(cfgPath, []byte("pump:\n  frame_interval: -1s\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		t.Errorf("invalid config delivered: %+v", cfg.Pump)
	case <-time.After(300 * time.Millisecond):
	}
}
