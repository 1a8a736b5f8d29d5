package domain

import (
	"fmt"
	"strings"
)

// Protocol selects which transport a port forward applies to.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolBoth Protocol = "both"
)

// ParseProtocol accepts tcp, udp and both in any case, plus the common
// vendor spellings of "both" (tcp_udp, tcp/udp, "tcp udp"). An empty
// string defaults to tcp.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	case "both", "tcp_udp", "tcp/udp", "tcp udp", "tcpudp", "all":
		return ProtocolBoth, nil
	}
	return "", Precondition("protocol", s, "protocol must be tcp, udp or both")
}

// PortForward is a DNAT rule from an external port to an internal host.
// Name identifies the rule within a router.
type PortForward struct {
	Name         string   `json:"name"`
	ExternalPort int      `json:"external_port"`
	InternalIP   string   `json:"internal_ip"`
	InternalPort int      `json:"internal_port"`
	Protocol     Protocol `json:"protocol"`
	Enabled      bool     `json:"enabled"`
}

// Validate checks every field and normalizes the protocol. It never
// touches the network, so adapters call it before anything else.
func (p *PortForward) Validate() error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return Precondition("name", p.Name, "rule name is required")
	}
	if len(name) > 64 || strings.ContainsAny(name, "'\"`$;|&\\\n") {
		return Precondition("name", p.Name, "rule name contains unsupported characters")
	}
	if err := ValidatePort("external_port", p.ExternalPort); err != nil {
		return err
	}
	if err := ValidatePort("internal_port", p.InternalPort); err != nil {
		return err
	}
	if err := ValidateIPv4("internal_ip", strings.TrimSpace(p.InternalIP)); err != nil {
		return err
	}
	proto, err := ParseProtocol(string(p.Protocol))
	if err != nil {
		return err
	}

	p.Name = name
	p.InternalIP = strings.TrimSpace(p.InternalIP)
	p.Protocol = proto
	return nil
}

// ValidatePort returns a PreconditionViolation unless port is in 1-65535.
func ValidatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return Precondition(field, fmt.Sprint(port), "port must be between 1 and 65535")
	}
	return nil
}
