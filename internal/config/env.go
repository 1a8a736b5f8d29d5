package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Environment variables recognized as overrides.
const (
	EnvRouterIP       = "ROUTER_IP"
	EnvRouterType     = "ROUTER_TYPE"
	EnvRouterUsername = "ROUTER_USERNAME"
	EnvRouterPassword = "ROUTER_PASSWORD"
	EnvRouterTimeout  = "ROUTER_TIMEOUT"
	EnvRouterDebug    = "ROUTER_DEBUG"
	EnvUniFiSite      = "UNIFI_SITE"
	EnvUniFiPort      = "UNIFI_PORT"
)

// LookupFunc resolves one variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// EnvLookup layers the process environment over dotenv entries, so an
// exported variable beats the same key in the file.
func EnvLookup(fileEntries map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEntries[key]
		return v, ok
	}
}

// ApplyEnv overrides config values from the environment. Empty values are
// ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvRouterIP); ok {
		c.Router.Address = v
	}
	if v, ok := get(EnvRouterType); ok {
		c.Router.Type = strings.ToLower(v)
	}
	if v, ok := get(EnvRouterUsername); ok {
		c.Router.Username = v
	}
	if v, ok := lookup(EnvRouterPassword); ok && v != "" {
		c.Router.Password = v
	}
	if v, ok := get(EnvRouterTimeout); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return errors.WithMessagef(err, "invalid %s", EnvRouterTimeout)
		}
		if d > 0 {
			c.Timeouts.Request = Duration(d)
		}
	}
	if v, ok := get(EnvRouterDebug); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvRouterDebug)
		}
		if debug {
			c.Log.Level = "debug"
		}
	}
	if v, ok := get(EnvUniFiSite); ok {
		c.UniFi.Site = v
	}
	if v, ok := get(EnvUniFiPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return errors.Errorf("invalid %s: %s", EnvUniFiPort, v)
		}
		c.UniFi.Port = port
	}
	return nil
}
