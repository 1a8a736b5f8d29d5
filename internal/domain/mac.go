package domain

import (
	"encoding/hex"
	"net"
	"strings"
)

// NormalizeMAC converts a MAC address in any common notation (colon, dash,
// dotted Cisco form or bare hex) to lower-case colon-separated form.
// Only 48-bit addresses are accepted.
func NormalizeMAC(mac string) (string, error) {
	raw := strings.TrimSpace(mac)
	if raw == "" {
		return "", Precondition("mac", mac, "MAC address is required")
	}

	if len(raw) == 12 {
		if b, err := hex.DecodeString(raw); err == nil {
			return net.HardwareAddr(b).String(), nil
		}
	}

	hw, err := net.ParseMAC(raw)
	if err != nil || len(hw) != 6 {
		return "", Precondition("mac", mac, "invalid MAC address")
	}
	return hw.String(), nil
}

// SameMAC reports whether two MAC spellings denote the same address.
// Unparseable input never matches.
func SameMAC(a, b string) bool {
	na, err := NormalizeMAC(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeMAC(b)
	if err != nil {
		return false
	}
	return na == nb
}
