package adapter

import (
	"context"
	"net/http"
	"time"

	"routerctl/internal/domain"
)

// Vendor identifies an adapter variant.
type Vendor string

const (
	VendorUniFi   Vendor = "unifi"
	VendorASUS    Vendor = "asus"
	VendorNetgear Vendor = "netgear"
	VendorPfSense Vendor = "pfsense"
	VendorOpenWrt Vendor = "openwrt"
	// VendorTPLink can be fingerprinted but has no adapter.
	VendorTPLink Vendor = "tplink"
)

// Router is the capability contract every vendor adapter implements.
// All methods may block on network I/O and honor ctx cancellation.
type Router interface {
	// Vendor returns the adapter variant
	Vendor() Vendor

	// Address returns the router address the adapter was built for
	Address() string

	// Connected reports whether a session is currently established
	Connected() bool

	// Connect authenticates and establishes a fresh session, discarding
	// any previous one. Safe to call again after a failure.
	Connect(ctx context.Context) error

	// Disconnect tears the session down on a best-effort basis. The
	// session is cleared even if the router cannot be reached.
	Disconnect(ctx context.Context)

	// GetDHCPLeases returns current leases plus known reservations
	GetDHCPLeases(ctx context.Context) ([]domain.NetworkDevice, error)

	// AddDHCPReservation creates or updates the reservation for a MAC
	AddDHCPReservation(ctx context.Context, reservation domain.DHCPReservation) error

	// RemoveDHCPReservation fails with domain.ErrNotFound if the MAC has
	// no reservation
	RemoveDHCPReservation(ctx context.Context, mac string) error

	// GetPortForwards returns the configured port forwarding rules
	GetPortForwards(ctx context.Context) ([]domain.PortForward, error)

	// AddPortForward creates a port forwarding rule
	AddPortForward(ctx context.Context, rule domain.PortForward) error

	// RemovePortForward deletes the rule with the given name
	RemovePortForward(ctx context.Context, name string) error

	// GetSystemInfo returns model, firmware, uptime and WAN address where known
	GetSystemInfo(ctx context.Context) (domain.SystemInfo, error)
}

// ConfigBackuper is implemented by adapters that can export the router
// configuration to a local file.
type ConfigBackuper interface {
	// BackupConfiguration writes the export to path and returns the path
	// actually written.
	BackupConfiguration(ctx context.Context, path string) (string, error)
}

// Options tune adapter transports. The zero value is usable.
type Options struct {
	// Timeout bounds every remote request
	Timeout time.Duration
	// UniFiSite is the controller site name
	UniFiSite string
	// UniFiPort is the controller port used when the address has none
	UniFiPort int
	// SSHPort is used by adapters that fall back to SSH
	SSHPort int
	// Transport replaces the HTTP transport (tests)
	Transport http.RoundTripper
}

const (
	defaultTimeout   = 10 * time.Second
	defaultUniFiSite = "default"
	defaultUniFiPort = 8443
	defaultSSHPort   = 22
)

// withDefaults fills unset options
func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.UniFiSite == "" {
		o.UniFiSite = defaultUniFiSite
	}
	if o.UniFiPort == 0 {
		o.UniFiPort = defaultUniFiPort
	}
	if o.SSHPort == 0 {
		o.SSHPort = defaultSSHPort
	}
	return o
}
