package adapter

import (
	"bufio"
	"strconv"
	"strings"
	"time"

	"routerctl/internal/domain"
)

// uciSection is one section of `uci show <config>` output
type uciSection struct {
	// Name is the section name as uci prints it: a named section, a
	// generated cfgXXXXXX id or an @type[index] reference
	Name    string
	Type    string
	Options map[string][]string
}

// Get returns the first value of an option
func (s uciSection) Get(option string) string {
	if v := s.Options[option]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// parseUCIShow parses `uci show` output into sections in file order.
// Lines look like `dhcp.lan=dhcp` and `dhcp.lan.start='100'`.
func parseUCIShow(output string) []uciSection {
	var sections []uciSection
	index := map[string]int{}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parts := strings.SplitN(key, ".", 3)
		if len(parts) < 2 {
			continue
		}

		name := parts[1]
		i, seen := index[name]
		if !seen {
			i = len(sections)
			index[name] = i
			sections = append(sections, uciSection{Name: name, Options: map[string][]string{}})
		}

		if len(parts) == 2 {
			sections[i].Type = strings.Trim(value, "'")
			continue
		}
		sections[i].Options[parts[2]] = uciValues(value)
	}
	return sections
}

// uciValues splits a printed uci value into its list items:
// `'a' 'b c'` yields ["a", "b c"]; an unquoted value is one item.
func uciValues(raw string) []string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "'") {
		return []string{raw}
	}

	var values []string
	for raw != "" {
		raw = strings.TrimLeft(raw, " ")
		if !strings.HasPrefix(raw, "'") {
			break
		}
		end := strings.Index(raw[1:], "'")
		if end < 0 {
			values = append(values, raw[1:])
			break
		}
		values = append(values, raw[1:end+1])
		raw = raw[end+2:]
	}
	return values
}

// sectionsOfType filters sections by type
func sectionsOfType(sections []uciSection, typ string) []uciSection {
	var out []uciSection
	for _, s := range sections {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// parseDnsmasqLeases parses /tmp/dhcp.leases. Each line is
// `<expiry> <mac> <ip> <hostname|*> <client-id|*>`. Leases that expired
// before now are reported inactive; expiry 0 means infinite.
func parseDnsmasqLeases(output string, now time.Time) []domain.NetworkDevice {
	var devices []domain.NetworkDevice
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		mac, err := domain.NormalizeMAC(fields[1])
		if err != nil {
			continue
		}
		hostname := fields[3]
		if hostname == "*" {
			hostname = ""
		}

		active := true
		if expiry, err := strconv.ParseInt(fields[0], 10, 64); err == nil && expiry != 0 {
			active = time.Unix(expiry, 0).After(now)
		}
		devices = append(devices, domain.NetworkDevice{
			MACAddress: mac,
			IPAddress:  fields[2],
			Hostname:   hostname,
			IsActive:   active,
		})
	}
	return devices
}

// hostReservations maps dhcp host sections to reservations. A host
// section may list several MACs; each becomes its own reservation.
func hostReservations(sections []uciSection) []domain.DHCPReservation {
	var out []domain.DHCPReservation
	for _, s := range sectionsOfType(sections, "host") {
		ip := s.Get("ip")
		if ip == "" {
			continue
		}
		for _, field := range s.Options["mac"] {
			for _, mac := range strings.Fields(field) {
				out = append(out, domain.DHCPReservation{
					MACAddress: mac,
					IPAddress:  ip,
					Hostname:   s.Get("name"),
				})
			}
		}
	}
	return out
}

// findHost returns the host section reserving mac
func findHost(sections []uciSection, mac string) (uciSection, bool) {
	for _, s := range sectionsOfType(sections, "host") {
		for _, field := range s.Options["mac"] {
			for _, m := range strings.Fields(field) {
				if domain.SameMAC(m, mac) {
					return s, true
				}
			}
		}
	}
	return uciSection{}, false
}

// redirectRules maps firewall redirect sections with a DNAT target to
// port forwards. Rules without a name are given their section name.
func redirectRules(sections []uciSection) []domain.PortForward {
	var out []domain.PortForward
	for _, s := range sectionsOfType(sections, "redirect") {
		if target := s.Get("target"); target != "" && target != "DNAT" {
			continue
		}
		name := s.Get("name")
		if name == "" {
			name = s.Name
		}
		proto, err := domain.ParseProtocol(strings.Join(s.Options["proto"], " "))
		if err != nil {
			proto = domain.ProtocolTCP
		}
		ext, _ := strconv.Atoi(s.Get("src_dport"))
		internal, _ := strconv.Atoi(s.Get("dest_port"))
		if internal == 0 {
			internal = ext
		}
		out = append(out, domain.PortForward{
			Name:         name,
			ExternalPort: ext,
			InternalIP:   s.Get("dest_ip"),
			InternalPort: internal,
			Protocol:     proto,
			Enabled:      s.Get("enabled") != "0",
		})
	}
	return out
}

// findRedirect returns the redirect section carrying name
func findRedirect(sections []uciSection, name string) (uciSection, bool) {
	for _, s := range sectionsOfType(sections, "redirect") {
		if s.Get("name") == name || (s.Get("name") == "" && s.Name == name) {
			return s, true
		}
	}
	return uciSection{}, false
}

// uciProto renders a protocol the way firewall3 expects it
func uciProto(p domain.Protocol) string {
	if p == domain.ProtocolBoth {
		return "tcp udp"
	}
	return string(p)
}

// shellQuote single-quotes s for a POSIX shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
