// Package adaptertest provides an in-memory router for tests of code that
// drives adapters.
package adaptertest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"routerctl/internal/adapter"
	"routerctl/internal/domain"
)

// Router is an in-memory adapter.Router with a reservation and rule
// store. It records lifecycle calls and can be told to fail.
type Router struct {
	VendorTag adapter.Vendor
	Addr      string

	// ConnectErr is returned by Connect when set
	ConnectErr error
	// OpErr is returned by every operation other than Connect and
	// Disconnect when set
	OpErr error
	// Panic makes GetSystemInfo panic
	Panic bool
	// Info is returned by GetSystemInfo
	Info domain.SystemInfo
	// Leases are reported alongside reservations
	Leases []domain.NetworkDevice
	// OnCall runs at the start of every operation (not Connect or
	// Disconnect)
	OnCall func()

	mu           sync.Mutex
	connected    bool
	reservations map[string]domain.DHCPReservation
	rules        []domain.PortForward

	Connects    atomic.Int32
	Disconnects atomic.Int32
}

var (
	_ adapter.Router         = (*Router)(nil)
	_ adapter.ConfigBackuper = (*Router)(nil)
)

// New creates a disconnected fake router.
func New(vendor adapter.Vendor, address string) *Router {
	return &Router{
		VendorTag:    vendor,
		Addr:         address,
		reservations: map[string]domain.DHCPReservation{},
	}
}

// Vendor implements adapter.Router.
func (r *Router) Vendor() adapter.Vendor { return r.VendorTag }

// Address implements adapter.Router.
func (r *Router) Address() string { return r.Addr }

// Connected implements adapter.Router.
func (r *Router) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Connect implements adapter.Router.
func (r *Router) Connect(ctx context.Context) error {
	r.Connects.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.connected = true
	return nil
}

// Disconnect implements adapter.Router.
func (r *Router) Disconnect(ctx context.Context) {
	r.Disconnects.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
}

func (r *Router) begin() error {
	if r.OnCall != nil {
		r.OnCall()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return domain.NewError(domain.KindNotConnected, "not connected to %s router at %s", r.VendorTag, r.Addr)
	}
	return r.OpErr
}

// GetDHCPLeases implements adapter.Router.
func (r *Router) GetDHCPLeases(ctx context.Context) ([]domain.NetworkDevice, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reservations := make([]domain.DHCPReservation, 0, len(r.reservations))
	for _, res := range r.reservations {
		reservations = append(reservations, res)
	}
	return domain.MergeReservations(r.Leases, reservations), nil
}

// AddDHCPReservation implements adapter.Router.
func (r *Router) AddDHCPReservation(ctx context.Context, reservation domain.DHCPReservation) error {
	if err := reservation.Normalize(); err != nil {
		return err
	}
	if err := r.begin(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations[reservation.MACAddress] = reservation
	return nil
}

// RemoveDHCPReservation implements adapter.Router.
func (r *Router) RemoveDHCPReservation(ctx context.Context, mac string) error {
	mac, err := domain.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	if err := r.begin(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reservations[mac]; !ok {
		return domain.NewError(domain.KindNotFound, "no DHCP reservation for %s", mac)
	}
	delete(r.reservations, mac)
	return nil
}

// GetPortForwards implements adapter.Router.
func (r *Router) GetPortForwards(ctx context.Context) ([]domain.PortForward, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PortForward{}, r.rules...), nil
}

// AddPortForward implements adapter.Router.
func (r *Router) AddPortForward(ctx context.Context, rule domain.PortForward) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := r.begin(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rules {
		if existing.Name == rule.Name {
			return domain.Precondition("name", rule.Name, "a port forward with this name already exists")
		}
	}
	rule.Enabled = true
	r.rules = append(r.rules, rule)
	return nil
}

// RemovePortForward implements adapter.Router.
func (r *Router) RemovePortForward(ctx context.Context, name string) error {
	if err := r.begin(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.rules {
		if existing.Name == name {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return domain.NewError(domain.KindNotFound, "no port forward named %q", name)
}

// GetSystemInfo implements adapter.Router.
func (r *Router) GetSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	if err := r.begin(); err != nil {
		return domain.SystemInfo{}, err
	}
	if r.Panic {
		panic("fake router exploded")
	}
	return r.Info, nil
}

// BackupConfiguration writes a fixed body to path, creating its
// directory like the real adapters do.
func (r *Router) BackupConfiguration(ctx context.Context, path string) (string, error) {
	if err := r.begin(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte("config "+r.Addr+"\n"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}
