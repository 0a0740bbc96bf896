package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/examwatch/examwatch/internal/detect"
	"github.com/examwatch/examwatch/internal/session"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Pump      PumpConfig      `yaml:"pump"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Health    HealthConfig    `yaml:"health"`
	Sound     SoundConfig     `yaml:"sound"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SessionConfig holds the detector thresholds applied at session start.
type SessionConfig struct {
	NoFaceTimeout     time.Duration `yaml:"no_face_timeout"`
	LookAwayThreshold time.Duration `yaml:"look_away_threshold"`
	DeviationRatio    float64       `yaml:"deviation_ratio"`
	FrameWidth        float64       `yaml:"frame_width"`
	MinConfidence     float64       `yaml:"min_confidence"`
	ProhibitedClasses []string      `yaml:"prohibited_classes"`
	AudioRMSThreshold float64       `yaml:"audio_rms_threshold"`
	AudioWindows      int           `yaml:"audio_windows"`
}

// PumpConfig sets the producer cadences while a session is running.
type PumpConfig struct {
	FrameInterval  time.Duration `yaml:"frame_interval"`
	ObjectInterval time.Duration `yaml:"object_interval"`
	AudioInterval  time.Duration `yaml:"audio_interval"`
}

type BroadcastConfig struct {
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MaxClients       int           `yaml:"max_clients"`
}

// HealthConfig sets how many consecutive failures mark a signal unhealthy.
type HealthConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
}

// SoundConfig is served to UIs that play alert sounds.
type SoundConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	MasterVolume float64 `yaml:"master_volume" json:"master_volume"`
	AlertVolume  float64 `yaml:"alert_volume" json:"alert_volume"`
	// BeepFrequency (Hz) and BeepMs describe the alert tone.
	BeepFrequency float64 `yaml:"beep_frequency" json:"beep_frequency"`
	BeepMs        int     `yaml:"beep_ms" json:"beep_ms"`
}

type PrivacyConfig struct {
	MaskCandidateNames bool     `yaml:"mask_candidate_names"`
	HiddenKinds        []string `yaml:"hidden_kinds"`
}

// NewPrivacyFilter builds the filter applied to broadcast snapshots. Kind
// names are validated by Validate; unknown names are ignored here.
func (pc PrivacyConfig) NewPrivacyFilter() *session.PrivacyFilter {
	pf := &session.PrivacyFilter{MaskCandidateNames: pc.MaskCandidateNames}
	for _, name := range pc.HiddenKinds {
		if k, ok := session.ParseKind(name); ok {
			pf.HiddenKinds = append(pf.HiddenKinds, k)
		}
	}
	return pf
}

func (sc SessionConfig) Attention() detect.AttentionConfig {
	return detect.AttentionConfig{
		NoFaceTimeout:     sc.NoFaceTimeout,
		LookAwayThreshold: sc.LookAwayThreshold,
		DeviationRatio:    sc.DeviationRatio,
		FrameWidth:        sc.FrameWidth,
	}
}

func (sc SessionConfig) Objects() detect.ObjectConfig {
	return detect.ObjectConfig{
		MinConfidence:     sc.MinConfidence,
		ProhibitedClasses: slices.Clone(sc.ProhibitedClasses),
	}
}

func (sc SessionConfig) Audio() detect.AudioConfig {
	return detect.AudioConfig{
		RMSThreshold: sc.AudioRMSThreshold,
		Windows:      sc.AudioWindows,
	}
}

func defaultConfig() *Config {
	att := detect.DefaultAttentionConfig()
	obj := detect.DefaultObjectConfig()
	aud := detect.DefaultAudioConfig()
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Session: SessionConfig{
			NoFaceTimeout:     att.NoFaceTimeout,
			LookAwayThreshold: att.LookAwayThreshold,
			DeviationRatio:    att.DeviationRatio,
			FrameWidth:        att.FrameWidth,
			MinConfidence:     obj.MinConfidence,
			ProhibitedClasses: obj.ProhibitedClasses,
			AudioRMSThreshold: aud.RMSThreshold,
			AudioWindows:      aud.Windows,
		},
		Pump: PumpConfig{
			FrameInterval:  100 * time.Millisecond,
			ObjectInterval: 1500 * time.Millisecond,
			AudioInterval:  3 * time.Second,
		},
		Broadcast: BroadcastConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
			MaxClients:       32,
		},
		Health: HealthConfig{
			FailureThreshold: 5,
		},
		Sound: SoundConfig{
			Enabled:       true,
			MasterVolume:  1.0,
			AlertVolume:   0.8,
			BeepFrequency: 880,
			BeepMs:        200,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("session.no_face_timeout", c.Session.NoFaceTimeout)
	positive("session.look_away_threshold", c.Session.LookAwayThreshold)
	positive("pump.frame_interval", c.Pump.FrameInterval)
	positive("pump.object_interval", c.Pump.ObjectInterval)
	positive("pump.audio_interval", c.Pump.AudioInterval)
	positive("broadcast.throttle", c.Broadcast.Throttle)
	positive("broadcast.snapshot_interval", c.Broadcast.SnapshotInterval)

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Session.DeviationRatio <= 0 {
		errs = append(errs, fmt.Errorf("session.deviation_ratio must be positive, got %v", c.Session.DeviationRatio))
	}
	if c.Session.FrameWidth <= 0 {
		errs = append(errs, fmt.Errorf("session.frame_width must be positive, got %v", c.Session.FrameWidth))
	}
	if c.Session.MinConfidence < 0 || c.Session.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("session.min_confidence %v outside [0,1]", c.Session.MinConfidence))
	}
	if c.Session.AudioRMSThreshold < 0 || c.Session.AudioRMSThreshold >= 1 {
		errs = append(errs, fmt.Errorf("session.audio_rms_threshold %v outside [0,1)", c.Session.AudioRMSThreshold))
	}
	if c.Session.AudioWindows < 1 {
		errs = append(errs, fmt.Errorf("session.audio_windows must be at least 1, got %d", c.Session.AudioWindows))
	}
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("health.failure_threshold must be at least 1, got %d", c.Health.FailureThreshold))
	}
	for _, name := range c.Privacy.HiddenKinds {
		if _, ok := session.ParseKind(name); !ok {
			errs = append(errs, fmt.Errorf("privacy.hidden_kinds: unknown kind %q", name))
		}
	}
	return errors.Join(errs...)
}

// GenerateToken returns a random 128-bit hex token for the HTTP API.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Diff lists human-readable differences between two configs, used to log
// what a reload changed.
func Diff(old, new *Config) []string {
	var changes []string
	add := func(key string, a, b any) {
		if fmt.Sprint(a) != fmt.Sprint(b) {
			changes = append(changes, fmt.Sprintf("%s: %v → %v", key, a, b))
		}
	}

	add("server.port", old.Server.Port, new.Server.Port)
	add("server.host", old.Server.Host, new.Server.Host)
	add("server.allowed_origins", old.Server.AllowedOrigins, new.Server.AllowedOrigins)
	if old.Server.AuthToken != new.Server.AuthToken {
		changes = append(changes, "server.auth_token: changed")
	}

	add("session.no_face_timeout", old.Session.NoFaceTimeout, new.Session.NoFaceTimeout)
	add("session.look_away_threshold", old.Session.LookAwayThreshold, new.Session.LookAwayThreshold)
	add("session.deviation_ratio", old.Session.DeviationRatio, new.Session.DeviationRatio)
	add("session.frame_width", old.Session.FrameWidth, new.Session.FrameWidth)
	add("session.min_confidence", old.Session.MinConfidence, new.Session.MinConfidence)
	add("session.prohibited_classes", old.Session.ProhibitedClasses, new.Session.ProhibitedClasses)
	add("session.audio_rms_threshold", old.Session.AudioRMSThreshold, new.Session.AudioRMSThreshold)
	add("session.audio_windows", old.Session.AudioWindows, new.Session.AudioWindows)

	add("pump.frame_interval", old.Pump.FrameInterval, new.Pump.FrameInterval)
	add("pump.object_interval", old.Pump.ObjectInterval, new.Pump.ObjectInterval)
	add("pump.audio_interval", old.Pump.AudioInterval, new.Pump.AudioInterval)

	add("broadcast.throttle", old.Broadcast.Throttle, new.Broadcast.Throttle)
	add("broadcast.snapshot_interval", old.Broadcast.SnapshotInterval, new.Broadcast.SnapshotInterval)
	add("broadcast.max_clients", old.Broadcast.MaxClients, new.Broadcast.MaxClients)

	add("health.failure_threshold", old.Health.FailureThreshold, new.Health.FailureThreshold)

	add("sound.enabled", old.Sound.Enabled, new.Sound.Enabled)
	add("sound.master_volume", old.Sound.MasterVolume, new.Sound.MasterVolume)
	add("sound.alert_volume", old.Sound.AlertVolume, new.Sound.AlertVolume)

	add("privacy.mask_candidate_names", old.Privacy.MaskCandidateNames, new.Privacy.MaskCandidateNames)
	add("privacy.hidden_kinds", old.Privacy.HiddenKinds, new.Privacy.HiddenKinds)

	return changes
}
