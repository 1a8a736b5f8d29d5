// Package config provides configuration management for routerctl.
//
// Settings come from three layers, later layers winning:
//  1. the YAML config file
//  2. an optional dotenv file, by default the .env in the working
//     directory or beside the config file
//  3. process environment variables (ROUTER_IP, ROUTER_TYPE, ...)
//
// routerctl.yaml is looked up in priority order:
//  1. $ROUTERCTL_CONFIG
//  2. the working directory
//  3. the user config directory, e.g. ~/.config/routerctl
//  4. /etc/routerctl
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
	DefaultUniFiSite      = "default"
	DefaultUniFiPort      = 8443
	DefaultSSHPort        = 22
	DefaultListen         = ":8780"
	DefaultRouterType     = "auto"
	DefaultSweepTimeout   = 2 * time.Second
	DefaultSweepWorkers   = 32
)

// DefaultDiscoveryPorts are the web ports checked before running detection.
var DefaultDiscoveryPorts = []int{80, 443}

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, errors.Wrapf(err, "cannot read the '%s' config file", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, errors.Wrapf(err, "cannot parse the '%s' config file", path)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path. The file may hold a router
// password so it is written owner-readable only.
func (c *Config) Save(path string) error {
	if err := ensureConfigDir(path); err != nil {
		return errors.Wrap(err, "cannot create the config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "cannot marshal the config")
	}

	return errors.WithStack(os.WriteFile(path, data, 0o600))
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Router.Type == "" {
		c.Router.Type = DefaultRouterType
	}
	if c.Timeouts.Request <= 0 {
		c.Timeouts.Request = Duration(DefaultRequestTimeout)
	}
	if c.Timeouts.Probe <= 0 {
		c.Timeouts.Probe = Duration(DefaultProbeTimeout)
	}
	if c.Detector.Parallel == nil {
		c.Detector.Parallel = boolPtr(true)
	}
	if c.UniFi.Site == "" {
		c.UniFi.Site = DefaultUniFiSite
	}
	if c.UniFi.Port == 0 {
		c.UniFi.Port = DefaultUniFiPort
	}
	if c.SSHPort == 0 {
		c.SSHPort = DefaultSSHPort
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.BackupDir == "" {
		c.BackupDir = "."
	}
	if len(c.Discovery.Ports) == 0 {
		c.Discovery.Ports = append([]int(nil), DefaultDiscoveryPorts...)
	}
	if c.Discovery.Timeout <= 0 {
		c.Discovery.Timeout = Duration(DefaultSweepTimeout)
	}
	if c.Discovery.Concurrency <= 0 {
		c.Discovery.Concurrency = DefaultSweepWorkers
	}
	if c.AutoConnect == nil {
		c.AutoConnect = boolPtr(true)
	}
}

// ParallelDetection reports whether detector tests run concurrently.
func (c *Config) ParallelDetection() bool {
	return c.Detector.Parallel == nil || *c.Detector.Parallel
}

// AutoConnectEnabled reports whether calls may open a session implicitly.
func (c *Config) AutoConnectEnabled() bool {
	return c.AutoConnect == nil || *c.AutoConnect
}

// HasCredentials reports whether the default router can be logged into
// without further input.
func (c *Config) HasCredentials() bool {
	return c.Router.Address != "" && c.Router.Username != ""
}

// Summary returns a human-readable config summary. The password is masked.
func (c *Config) Summary() string {
	var b strings.Builder
	addr := c.Router.Address
	if addr == "" {
		addr = "(none)"
	}
	fmt.Fprintf(&b, "Router: %s, type: %s, user: %s", addr, c.Router.Type, c.Router.Username)
	if c.Router.Password != "" {
		b.WriteString(", password: ****")
	}
	fmt.Fprintf(&b, "\nTimeouts: request %s, probe %s, parallel detection: %v\n",
		c.Timeouts.Request.Duration(), c.Timeouts.Probe.Duration(), c.ParallelDetection())
	fmt.Fprintf(&b, "UniFi: site %s, port %d; SSH port %d; listen %s",
		c.UniFi.Site, c.UniFi.Port, c.SSHPort, c.Listen)
	return b.String()
}

// ParseDuration accepts Go duration strings ("10s", "1m30s") and bare
// integers, which are read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, errors.Errorf("negative duration: %s", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration '%s'", s)
	}
	if d < 0 {
		return 0, errors.Errorf("negative duration: %s", s)
	}
	return d, nil
}

func boolPtr(v bool) *bool {
	return &v
}
