package dispatch

import (
	"context"
	"fmt"

	"routerctl/internal/adapter"
	"routerctl/internal/domain"
)

// Param describes one tool argument.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string or integer
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// Tool is one named operation of the catalog.
type Tool struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []Param  `json:"params"`
	Aliases     []string `json:"aliases,omitempty"`

	// Action completes "Failed to ..." in failure messages
	Action string `json:"-"`

	run func(ctx context.Context, s *Server, args Args) (string, error)
}

// InputSchema renders the parameters as a JSON Schema object.
func (t Tool) InputSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := []string{}
	for _, p := range t.Params {
		props[p.Name] = map[string]any{"type": p.Type, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func (t Tool) checkRequired(args Args) error {
	for _, p := range t.Params {
		if p.Required && !args.Has(p.Name) {
			return domain.Precondition(p.Name, "", "missing required argument")
		}
	}
	return nil
}

var ipParam = Param{Name: "ip", Type: "string", Description: "Router address; defaults to the configured router"}

func (s *Server) registerTools() {
	s.tools = map[string]*Tool{}
	s.aliases = map[string]string{}

	add := func(t *Tool) {
		s.tools[t.Name] = t
		for _, alias := range t.Aliases {
			s.aliases[alias] = t.Name
		}
	}

	add(&Tool{
		Name:        "detect_router_type",
		Description: "Probe an address over http and https and report which router vendor answers",
		Action:      "detect router type",
		Params:      []Param{ipParam},
		run:         detectRouterType,
	})
	add(&Tool{
		Name:        "connect_router",
		Description: "Log in to a router and keep the session for later calls",
		Aliases:     []string{"connect_to_router"},
		Action:      "connect to router",
		Params: []Param{
			ipParam,
			{Name: "username", Type: "string", Description: "Login name; defaults to the configured user or admin"},
			{Name: "password", Type: "string", Description: "Login password"},
			{Name: "router_type", Type: "string", Description: "Vendor tag (unifi, asus, netgear, pfsense, openwrt) or auto"},
		},
		run: connectRouter,
	})
	add(&Tool{
		Name:        "disconnect_router",
		Description: "Log out of a router and drop its session",
		Action:      "disconnect router",
		Params:      []Param{ipParam},
		run:         disconnectRouter,
	})
	add(&Tool{
		Name:        "list_connections",
		Description: "List the routers with a live session",
		Action:      "list connections",
		run:         listConnections,
	})
	add(&Tool{
		Name:        "list_dhcp_leases",
		Description: "List DHCP leases and static reservations",
		Aliases:     []string{"list_dhcp_reservations"},
		Action:      "list DHCP leases",
		Params:      []Param{ipParam},
		run:         listDHCPLeases,
	})
	add(&Tool{
		Name:        "list_connected_devices",
		Description: "List devices currently holding a DHCP lease",
		Action:      "list connected devices",
		Params:      []Param{ipParam},
		run:         listConnectedDevices,
	})
	add(&Tool{
		Name:        "add_dhcp_reservation",
		Description: "Bind a MAC address to a fixed IP address",
		Action:      "add DHCP reservation",
		Params: []Param{
			ipParam,
			{Name: "mac", Type: "string", Description: "Device MAC address", Required: true},
			{Name: "ip_address", Type: "string", Description: "IPv4 address to reserve", Required: true},
			{Name: "hostname", Type: "string", Description: "Optional device name"},
		},
		run: addDHCPReservation,
	})
	add(&Tool{
		Name:        "remove_dhcp_reservation",
		Description: "Remove the reservation of a MAC address",
		Action:      "remove DHCP reservation",
		Params: []Param{
			ipParam,
			{Name: "mac", Type: "string", Description: "Device MAC address", Required: true},
		},
		run: removeDHCPReservation,
	})
	add(&Tool{
		Name:        "list_port_forwards",
		Description: "List port forwarding rules",
		Action:      "list port forwards",
		Params:      []Param{ipParam},
		run:         listPortForwards,
	})
	add(&Tool{
		Name:        "add_port_forward",
		Description: "Forward an external port to an internal host",
		Action:      "add port forward",
		Params: []Param{
			ipParam,
			{Name: "name", Type: "string", Description: "Rule name", Required: true},
			{Name: "external_port", Type: "integer", Description: "External port", Required: true},
			{Name: "internal_ip", Type: "string", Description: "Internal host IPv4 address", Required: true},
			{Name: "internal_port", Type: "integer", Description: "Internal port; defaults to the external port"},
			{Name: "protocol", Type: "string", Description: "tcp, udp or both; defaults to tcp"},
		},
		run: addPortForward,
	})
	add(&Tool{
		Name:        "remove_port_forward",
		Description: "Remove a port forwarding rule by name",
		Action:      "remove port forward",
		Params: []Param{
			ipParam,
			{Name: "name", Type: "string", Description: "Rule name", Required: true},
		},
		run: removePortForward,
	})
	add(&Tool{
		Name:        "get_system_info",
		Description: "Report router model, firmware, uptime and WAN address",
		Aliases:     []string{"get_network_status"},
		Action:      "get system info",
		Params:      []Param{ipParam},
		run:         getSystemInfo,
	})
	add(&Tool{
		Name:        "backup_configuration",
		Description: "Download the router configuration archive to a local file",
		Action:      "back up configuration",
		Params: []Param{
			ipParam,
			{Name: "filename", Type: "string", Description: "Target file; defaults to router_backup_<timestamp>.conf in the backup directory"},
		},
		run: backupConfiguration,
	})
}

func detectRouterType(ctx context.Context, s *Server, args Args) (string, error) {
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	result := s.detector.Detect(ctx, address)
	if !result.Detected() {
		return formatTests(result), domain.NewError(domain.KindDetectionFailed, "router type could not be determined for %s", address)
	}
	return fmt.Sprintf("Router at %s detected as %s\n%s", address, result.Vendor, formatTests(result)), nil
}

func connectRouter(ctx context.Context, s *Server, args Args) (string, error) {
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	tag := args.String("router_type")
	if router := s.Config().Router; tag == "" && address == router.Address {
		tag = router.Type
	}

	router, err := s.connect(ctx, address, tag, s.credentials(address, args))
	if err != nil {
		return "", err
	}

	label := string(router.Vendor())
	// Model lookup is cosmetic; a failure leaves the vendor tag.
	_ = s.cache.Do(ctx, address, func(ctx context.Context, r adapter.Router) error {
		info, err := r.GetSystemInfo(ctx)
		if err == nil && info.Model != "" {
			label = info.Model
		}
		return nil
	})
	return fmt.Sprintf("Connected to %s router at %s (%s)", router.Vendor(), address, label), nil
}

func disconnectRouter(ctx context.Context, s *Server, args Args) (string, error) {
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	if !s.cache.Disconnect(ctx, address) {
		return "", domain.NewError(domain.KindNotConnected, "no router connected at %s", address)
	}
	return fmt.Sprintf("Disconnected from %s", address), nil
}

func listConnections(ctx context.Context, s *Server, args Args) (string, error) {
	return formatConnections(s.cache.List(), s.now()), nil
}

func listDHCPLeases(ctx context.Context, s *Server, args Args) (string, error) {
	devices, err := s.leases(ctx, args)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "No DHCP leases or reservations found.", nil
	}
	return formatDevices("DHCP Leases", devices), nil
}

func listConnectedDevices(ctx context.Context, s *Server, args Args) (string, error) {
	devices, err := s.leases(ctx, args)
	if err != nil {
		return "", err
	}
	active := devices[:0]
	for _, d := range devices {
		if d.IsActive {
			active = append(active, d)
		}
	}
	if len(active) == 0 {
		return "No connected devices found.", nil
	}
	return formatDevices("Connected Devices", active), nil
}

func (s *Server) leases(ctx context.Context, args Args) ([]domain.NetworkDevice, error) {
	address, err := s.address(args)
	if err != nil {
		return nil, err
	}
	var devices []domain.NetworkDevice
	err = s.withRouter(ctx, address, func(ctx context.Context, r adapter.Router) error {
		var err error
		devices, err = r.GetDHCPLeases(ctx)
		return err
	})
	return devices, err
}

func addDHCPReservation(ctx context.Context, s *Server, args Args) (string, error) {
	reservation, err := domain.NewDHCPReservation(args.String("mac"), args.String("ip_address"), args.String("hostname"))
	if err != nil {
		return "", err
	}
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	err = s.withRouter(ctx, address, func(ctx context.Context, r adapter.Router) error {
		return r.AddDHCPReservation(ctx, reservation)
	})
	if err != nil {
		return "", err
	}
	text := fmt.Sprintf("Added DHCP reservation: %s -> %s", reservation.MACAddress, reservation.IPAddress)
	if reservation.Hostname != "" {
		text += fmt.Sprintf(" (%s)", reservation.Hostname)
	}
	return text, nil
}

func removeDHCPReservation(ctx context.Context, s *Server, args Args) (string, error) {
	mac, err := domain.NormalizeMAC(args.String("mac"))
	if err != nil {
		return "", err
	}
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	err = s.withRouter(ctx, address, func(ctx context.Context, r adapter.Router) error {
		return r.RemoveDHCPReservation(ctx, mac)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed DHCP reservation for %s", mac), nil
}

func listPortForwards(ctx context.Context, s *Server, args Args) (string, error) {
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	var rules []domain.PortForward
	err = s.withRouter(ctx, address, func(ctx context.Context, r adapter.Router) error {
		var err error
		rules, err = r.GetPortForwards(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(rules) == 0 {
		return "No port forwarding rules found.", nil
	}
	return formatPortForwards(rules), nil
}

func addPortForward(ctx context.Context, s *Server, args Args) (string, error) {
	external, _, err := args.Int("external_port")
	if err != nil {
		return "", err
	}
	internal, ok, err := args.Int("internal_port")
	if err != nil {
		return "", err
	}
	if !ok {
		internal = external
	}
	rule := domain.PortForward{
		Name:         args.String("name"),
		ExternalPort: external,
		InternalIP:   args.String("internal_ip"),
		InternalPort: internal,
		Protocol:     domain.Protocol(args.String("protocol")),
		Enabled:      true,
	}
	if err := rule.Validate(); err != nil {
		return "", err
	}
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	err = s.withRouter(ctx, address, func(ctx context.Context, r adapter.Router) error {
		return r.AddPortForward(ctx, rule)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added port forward: %s (%d/%s -> %s:%d)",
		rule.Name, rule.ExternalPort, rule.Protocol, rule.InternalIP, rule.InternalPort), nil
}

func removePortForward(ctx context.Context, s *Server, args Args) (string, error) {
	name := args.String("name")
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	err = s.withRouter(ctx, address, func(ctx context.Context, r adapter.Router) error {
		return r.RemovePortForward(ctx, name)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed port forward: %s", name), nil
}

func getSystemInfo(ctx context.Context, s *Server, args Args) (string, error) {
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	var info domain.SystemInfo
	var vendor adapter.Vendor
	err = s.withRouter(ctx, address, func(ctx context.Context, r adapter.Router) error {
		vendor = r.Vendor()
		var err error
		info, err = r.GetSystemInfo(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return formatSystemInfo(address, vendor, info, s.now()), nil
}
