package domain

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/asaskevich/govalidator"
)

// DHCPReservation is a static IP binding keyed by MAC address. Within one
// router the MAC address identifies the reservation: adding a reservation
// for a MAC that already has one updates it.
type DHCPReservation struct {
	MACAddress string `json:"mac_address"`
	IPAddress  string `json:"ip_address"`
	Hostname   string `json:"hostname,omitempty"`
}

// NewDHCPReservation validates and normalizes a reservation.
func NewDHCPReservation(mac, ip, hostname string) (DHCPReservation, error) {
	r := DHCPReservation{MACAddress: mac, IPAddress: ip, Hostname: hostname}
	if err := r.Normalize(); err != nil {
		return DHCPReservation{}, err
	}
	return r, nil
}

// Normalize validates the reservation in place, rewriting the MAC address
// into normal form and trimming the other fields.
func (r *DHCPReservation) Normalize() error {
	mac, err := NormalizeMAC(r.MACAddress)
	if err != nil {
		return err
	}
	ip := strings.TrimSpace(r.IPAddress)
	if err := ValidateIPv4("ip", ip); err != nil {
		return err
	}
	hostname := strings.TrimSpace(r.Hostname)
	if hostname != "" && !IsHostname(hostname) {
		return Precondition("hostname", r.Hostname, "hostname may only contain letters, digits, '-', '_' and '.'")
	}

	r.MACAddress = mac
	r.IPAddress = ip
	r.Hostname = hostname
	return nil
}

// NetworkDevice is a snapshot of a DHCP lease or known client taken at
// query time. It is regenerated on every query and never stored.
type NetworkDevice struct {
	MACAddress string `json:"mac_address"`
	IPAddress  string `json:"ip_address"`
	Hostname   string `json:"hostname,omitempty"`
	IsActive   bool   `json:"is_active"`
}

// ValidateIPv4 returns a PreconditionViolation unless value is a dotted
// quad IPv4 address.
func ValidateIPv4(field, value string) error {
	if !govalidator.IsIPv4(value) {
		return Precondition(field, value, "invalid IPv4 address")
	}
	return nil
}

// IsHostname reports whether name is safe to hand to a router as a
// client name, including as a quoted shell argument.
func IsHostname(name string) bool {
	if len(name) > 63 || strings.ContainsAny(name, " '\"`$;|&\\") {
		return false
	}
	return govalidator.IsDNSName(name)
}

// MergeReservations returns leases plus every reservation whose MAC is not
// currently leased (reported inactive), sorted by IP address. This keeps
// freshly added reservations visible before a client ever requests them.
func MergeReservations(leases []NetworkDevice, reservations []DHCPReservation) []NetworkDevice {
	seen := make(map[string]bool, len(leases))
	out := make([]NetworkDevice, 0, len(leases)+len(reservations))
	for _, l := range leases {
		if mac, err := NormalizeMAC(l.MACAddress); err == nil {
			l.MACAddress = mac
		}
		seen[l.MACAddress] = true
		out = append(out, l)
	}
	for _, r := range reservations {
		mac, err := NormalizeMAC(r.MACAddress)
		if err != nil || seen[mac] {
			continue
		}
		seen[mac] = true
		out = append(out, NetworkDevice{
			MACAddress: mac,
			IPAddress:  r.IPAddress,
			Hostname:   r.Hostname,
		})
	}
	SortDevices(out)
	return out
}

// SortDevices orders devices by numeric IP address, then MAC.
func SortDevices(devices []NetworkDevice) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, errA := netip.ParseAddr(devices[i].IPAddress)
		b, errB := netip.ParseAddr(devices[j].IPAddress)
		switch {
		case errA == nil && errB == nil && a != b:
			return a.Less(b)
		case errA != nil && errB == nil:
			return false
		case errA == nil && errB != nil:
			return true
		}
		return devices[i].MACAddress < devices[j].MACAddress
	})
}
