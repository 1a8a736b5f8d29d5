package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int             `yaml:"version"`
	Router    RouterConfig    `yaml:"router"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Detector  DetectorConfig  `yaml:"detector"`
	UniFi     UniFiConfig     `yaml:"unifi"`
	SSHPort   int             `yaml:"ssh_port"`
	Listen    string          `yaml:"listen"`
	Log       LogConfig       `yaml:"log"`
	BackupDir string          `yaml:"backup_dir"`
	Discovery DiscoveryConfig `yaml:"discovery"`

	// AutoConnect opens a session for the configured router on first use.
	AutoConnect *bool `yaml:"auto_connect,omitempty"`
}

// RouterConfig is the default router used when a call names no address.
type RouterConfig struct {
	Address  string `yaml:"address"`
	Type     string `yaml:"type"` // vendor tag or "auto"
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
}

// TimeoutConfig holds per-request bounds
type TimeoutConfig struct {
	Request Duration `yaml:"request"`
	Probe   Duration `yaml:"probe"`
}

// DetectorConfig holds vendor detection settings
type DetectorConfig struct {
	Parallel *bool `yaml:"parallel,omitempty"`
}

// UniFiConfig holds controller settings
type UniFiConfig struct {
	Site string `yaml:"site"`
	Port int    `yaml:"port"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DiscoveryConfig holds subnet sweep settings
type DiscoveryConfig struct {
	Ports       []int    `yaml:"ports,omitempty"`
	Timeout     Duration `yaml:"timeout"`
	Concurrency int      `yaml:"concurrency"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
