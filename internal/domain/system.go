package domain

import "time"

// SystemInfo describes a router. Every field is optional: adapters fill in
// what the remote API exposes and leave the rest zero.
type SystemInfo struct {
	Model    string        `json:"model,omitempty"`
	Firmware string        `json:"firmware,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	WANIP    string        `json:"wan_ip,omitempty"`
}

// Credentials authenticate against a router's management interface.
type Credentials struct {
	Username string
	Password string
}

// String hides the password so credentials are safe to log.
func (c Credentials) String() string {
	if c.Password == "" {
		return c.Username
	}
	return c.Username + ":***"
}
