// Package config provides the configuration schema and loader for the
// satellite daemon.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for satellited.
type Config struct {
	// Device identity
	Name       string `yaml:"name"`
	MACAddress string `yaml:"mac_address"`

	LogLevel string `yaml:"log_level"`

	// Remote assistant backend (websocket URL).
	BackendURL string `yaml:"backend_url"`

	// Local IPC
	IPCDir string `yaml:"ipc_dir"`

	// Web diagnostics
	WebPort int `yaml:"web_port"`

	// Media
	AudioDevice string `yaml:"audio_device"`
	Sounds      Sounds `yaml:"sounds"`

	// Trigger tuning
	Triggers Triggers `yaml:"triggers"`

	// Distance sensor (sysfs IIO path; empty disables the hardware reader)
	DistanceSensorPath string `yaml:"distance_sensor_path"`

	// System volume
	SystemVolumeDevice  string `yaml:"system_volume_device"`
	SystemVolumeControl string `yaml:"system_volume_control"`

	// Wake word model storage
	DownloadDir string `yaml:"download_dir"`
}

// Sounds holds paths/URLs for local cue sounds.
type Sounds struct {
	Wakeup        string `yaml:"wakeup"`
	Mute          string `yaml:"mute"`
	Unmute        string `yaml:"unmute"`
	Processing    string `yaml:"processing"`
	TimerFinished string `yaml:"timer_finished"`
}

// Triggers holds the tunable parameters of the trigger fusion gate.
type Triggers struct {
	WakeWordEnabled         bool    `yaml:"wake_word_enabled"`
	DistanceEnabled         bool    `yaml:"distance_enabled"`
	DistanceSoundEnabled    bool    `yaml:"distance_sound_enabled"`
	DistanceThresholdMM     float64 `yaml:"distance_threshold_mm"`
	RefractorySeconds       float64 `yaml:"refractory_seconds"`
	VisionEnabled           bool    `yaml:"vision_enabled"`
	AttentionRequired       bool    `yaml:"attention_required"`
	VisionCooldownSeconds   float64 `yaml:"vision_cooldown_seconds"`
	VisionMinConfidence     float64 `yaml:"vision_min_confidence"`
	EngagedVADWindowSeconds float64 `yaml:"engaged_vad_window_seconds"`
	ThinkingSoundEnabled    bool    `yaml:"thinking_sound_enabled"`
}

// Default returns a Config with working defaults for a bench setup.
func Default() *Config {
	return &Config{
		Name:       "satellite",
		LogLevel:   "info",
		BackendURL: "ws://localhost:6053/voice",
		IPCDir:     "/tmp/satellite-ipc",
		WebPort:    8090,
		Triggers: Triggers{
			WakeWordEnabled:         true,
			DistanceSoundEnabled:    true,
			DistanceThresholdMM:     150,
			RefractorySeconds:       2,
			VisionCooldownSeconds:   5,
			VisionMinConfidence:     0.6,
			EngagedVADWindowSeconds: 4,
			ThinkingSoundEnabled:    true,
		},
		DownloadDir: "/var/lib/satellite",
	}
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated Config. A missing file is not an
// error: defaults plus environment overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of defaults.
// Useful in tests where configs are built from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides selected fields from the environment so the daemon can
// be redirected without editing the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SATELLITE_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("SATELLITE_IPC_DIR"); v != "" {
		cfg.IPCDir = v
	}
	if v := os.Getenv("SATELLITE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SATELLITE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.WebPort = port
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
func (c *Config) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend_url is required"))
	}
	if c.IPCDir == "" {
		errs = append(errs, errors.New("ipc_dir is required"))
	}
	if c.WebPort < 0 || c.WebPort > 65535 {
		errs = append(errs, fmt.Errorf("web_port %d is out of range", c.WebPort))
	}

	t := &c.Triggers
	if t.DistanceThresholdMM < 1 {
		errs = append(errs, fmt.Errorf("triggers.distance_threshold_mm %.1f must be >= 1", t.DistanceThresholdMM))
	}
	if t.RefractorySeconds < 0 {
		errs = append(errs, fmt.Errorf("triggers.refractory_seconds %.1f must be >= 0", t.RefractorySeconds))
	}
	if t.VisionMinConfidence < 0 || t.VisionMinConfidence > 1 {
		errs = append(errs, fmt.Errorf("triggers.vision_min_confidence %.2f is out of range [0, 1]", t.VisionMinConfidence))
	}
	if t.EngagedVADWindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("triggers.engaged_vad_window_seconds %.1f must be > 0", t.EngagedVADWindowSeconds))
	}
	if t.VisionCooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("triggers.vision_cooldown_seconds %.1f must be >= 0", t.VisionCooldownSeconds))
	}

	return errors.Join(errs...)
}
