package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BackendKind selects how MIDI events become sound.
type BackendKind string

const (
	BackendFM        BackendKind = "fm"
	BackendSoundFont BackendKind = "soundfont"
	BackendPort      BackendKind = "port"
)

// Config holds player settings. Command-line flags override it.
type Config struct {
	Backend    BackendKind `yaml:"backend"`
	SoundFont  string      `yaml:"soundfont,omitempty"`
	Port       string      `yaml:"port,omitempty"`
	SampleRate int         `yaml:"sample_rate"`
	Volume     int         `yaml:"volume"`
	Pitch      int         `yaml:"pitch"`
	Loop       bool        `yaml:"loop"`
	Loops      int         `yaml:"loops,omitempty"` // stop after this many loops; 0 = forever
	FadeInMS   int         `yaml:"fade_in_ms,omitempty"`
	Debug      bool        `yaml:"debug,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendFM,
		SampleRate: 44100,
		Volume:     100,
		Pitch:      100,
		Loop:       true,
	}
}

// Dir returns the config directory path
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "midifeed"), nil
}

// Path returns the full path to config.yaml
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config at path, or the default location when path is
// empty. A missing file yields the defaults; fields absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = p
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFM, BackendPort:
	case BackendSoundFont:
		if c.SoundFont == "" {
			return errors.New("backend soundfont needs a soundfont path")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate %d out of range", c.SampleRate)
	}
	if c.Volume < 0 || c.Volume > 100 {
		return fmt.Errorf("volume %d out of range 0-100", c.Volume)
	}
	if c.Pitch <= 0 {
		return fmt.Errorf("pitch must be positive, got %d", c.Pitch)
	}
	if c.Loops < 0 || c.FadeInMS < 0 {
		return errors.New("loops and fade_in_ms must not be negative")
	}
	return nil
}
