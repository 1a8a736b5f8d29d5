package adapter

import (
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"routerctl/internal/domain"
)

// OpenWrt drives LuCI's JSON-RPC interface. Reads and writes are shell
// commands run through the sys.exec call; writes are grouped into
// command plans.
type OpenWrt struct {
	base

	// now is the clock used to judge lease expiry
	now func() time.Time
}

var (
	_ Router         = (*OpenWrt)(nil)
	_ ConfigBackuper = (*OpenWrt)(nil)
)

// NewOpenWrt creates an OpenWrt adapter.
func NewOpenWrt(address string, creds domain.Credentials, opts Options) *OpenWrt {
	return &OpenWrt{base: newBase(VendorOpenWrt, address, creds, opts), now: time.Now}
}

// luciRequest is a LuCI JSON-RPC call
type luciRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// luciResponse is a LuCI JSON-RPC answer. Result is null on failure.
type luciResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// exitMarker is appended to plan steps to recover the exit status,
// which sys.exec does not report.
const exitMarker = "__routerctl_rc="

var exitMarkerRe = regexp.MustCompile(exitMarker + `(\d+)\s*$`)

// Connect logs in through the auth endpoint and keeps the returned token.
func (o *OpenWrt) Connect(ctx context.Context) error {
	o.replaceSession(nil)

	client := newRESTClient(o.opts)
	baseURL := hostURL("http", o.address, 0)
	s := &session{client: client, baseURL: baseURL}
	failConnect := func(err error) error {
		s.close()
		return o.fail("connect", err)
	}

	var answer luciResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(luciRequest{ID: 1, Method: "login", Params: []any{o.creds.Username, o.creds.Password}}).
		SetResult(&answer).
		ForceContentType("application/json").
		Post(baseURL + "/cgi-bin/luci/rpc/auth")
	if err != nil {
		return failConnect(transportError(o.address, err))
	}
	if err := statusError(resp, "LuCI login"); err != nil {
		return failConnect(err)
	}

	var token string
	if len(answer.Result) == 0 || json.Unmarshal(answer.Result, &token) != nil || token == "" {
		return failConnect(domain.NewError(domain.KindAuthenticationFailed, "LuCI rejected credentials for %s", o.creds.Username))
	}

	s.token = token
	o.replaceSession(s)
	log.WithField("address", o.address).Debug("OpenWrt session established")
	return nil
}

// Disconnect drops the token. LuCI RPC tokens expire on their own.
func (o *OpenWrt) Disconnect(ctx context.Context) {
	o.teardown(ctx, nil)
}

// exec runs one shell command through sys.exec and returns its output.
func (o *OpenWrt) exec(ctx context.Context, s *session, command string) (string, error) {
	var answer luciResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("auth", s.token).
		SetBody(luciRequest{ID: 1, Method: "exec", Params: []any{command}}).
		SetResult(&answer).
		ForceContentType("application/json").
		Post(s.baseURL + "/cgi-bin/luci/rpc/sys")
	if err != nil {
		return "", transportError(o.address, err)
	}
	if err := statusError(resp, "LuCI exec"); err != nil {
		return "", err
	}
	if len(answer.Error) > 0 && string(answer.Error) != "null" {
		return "", domain.NewError(domain.KindRemote, "LuCI exec failed: %s", answer.Error)
	}

	var output string
	if len(answer.Result) > 0 && string(answer.Result) != "null" {
		if err := json.Unmarshal(answer.Result, &output); err != nil {
			return "", domain.WrapError(domain.KindRemote, err, "unexpected LuCI exec result")
		}
	}
	return output, nil
}

// execJSON runs a command that prints JSON (ubus) and decodes it
func (o *OpenWrt) execJSON(ctx context.Context, s *session, command string, v any) error {
	output, err := o.exec(ctx, s, command)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(output), v); err != nil {
		return domain.WrapError(domain.KindRemote, err, "unexpected output from %q", command)
	}
	return nil
}

// CommandPlan is an ordered list of shell commands that together perform
// one configuration change. Steps run in order and the plan stops at the
// first failing step. Steps that already ran are not rolled back; uci
// changes that were staged but not committed are discarded by the router
// on the next revert or reboot.
type CommandPlan struct {
	Name  string
	Steps []string
}

// Run executes the plan through exec.
func (p CommandPlan) Run(ctx context.Context, exec func(context.Context, string) (string, error)) error {
	for i, step := range p.Steps {
		kind := domain.KindRemote
		output, err := exec(ctx, step+" 2>&1; echo "+exitMarker+"$?")
		if err == nil {
			err = stepStatus(output)
		} else if k := domain.KindOf(err); k != "" {
			kind = k
		}
		if err != nil {
			return domain.WrapError(kind, err, "%s: step %d/%d %q failed", p.Name, i+1, len(p.Steps), step)
		}
	}
	return nil
}

// stepStatus reads the exit status a plan step printed last
func stepStatus(output string) error {
	m := exitMarkerRe.FindStringSubmatch(output)
	if m == nil {
		return errors.New("no exit status in command output")
	}
	if m[1] != "0" {
		out := strings.TrimSpace(exitMarkerRe.ReplaceAllString(output, ""))
		return errors.Errorf("exit status %s: %s", m[1], out)
	}
	return nil
}

func (o *OpenWrt) runPlan(ctx context.Context, s *session, plan CommandPlan) error {
	log.WithFields(log.Fields{"address": o.address, "plan": plan.Name, "steps": len(plan.Steps)}).Debug("Running command plan")
	return plan.Run(ctx, func(ctx context.Context, cmd string) (string, error) {
		return o.exec(ctx, s, cmd)
	})
}

func (o *OpenWrt) uciShow(ctx context.Context, s *session, config string) ([]uciSection, error) {
	output, err := o.exec(ctx, s, "uci show "+config)
	if err != nil {
		return nil, err
	}
	return parseUCIShow(output), nil
}

// GetDHCPLeases merges dnsmasq leases with configured host sections.
func (o *OpenWrt) GetDHCPLeases(ctx context.Context) ([]domain.NetworkDevice, error) {
	s, err := o.requireSession()
	if err != nil {
		return nil, err
	}

	output, err := o.exec(ctx, s, "cat /tmp/dhcp.leases")
	if err != nil {
		return nil, o.fail("get_dhcp_leases", err)
	}
	sections, err := o.uciShow(ctx, s, "dhcp")
	if err != nil {
		return nil, o.fail("get_dhcp_leases", err)
	}
	return domain.MergeReservations(parseDnsmasqLeases(output, o.now()), hostReservations(sections)), nil
}

// ReservationPlan returns the plan that adds or updates the host section
// for the reservation.
func ReservationPlan(reservation domain.DHCPReservation, existing string) CommandPlan {
	name := reservation.Hostname
	if name == "" {
		name = "device"
	}
	section := "dhcp." + existing
	var steps []string
	if existing == "" {
		section = "dhcp.@host[-1]"
		steps = append(steps,
			"uci add dhcp host",
			"uci set "+section+".mac="+shellQuote(reservation.MACAddress))
	}
	steps = append(steps,
		"uci set "+section+".ip="+shellQuote(reservation.IPAddress),
		"uci set "+section+".name="+shellQuote(name),
		"uci commit dhcp",
		"/etc/init.d/dnsmasq restart")
	return CommandPlan{Name: "add DHCP reservation", Steps: steps}
}

// AddDHCPReservation adds a host section, or updates the one already
// reserving the MAC.
func (o *OpenWrt) AddDHCPReservation(ctx context.Context, reservation domain.DHCPReservation) error {
	if err := reservation.Normalize(); err != nil {
		return err
	}
	s, err := o.requireSession()
	if err != nil {
		return err
	}

	sections, err := o.uciShow(ctx, s, "dhcp")
	if err != nil {
		return o.fail("add_dhcp_reservation", err)
	}
	var existing string
	if host, ok := findHost(sections, reservation.MACAddress); ok {
		existing = host.Name
	}
	return o.fail("add_dhcp_reservation", o.runPlan(ctx, s, ReservationPlan(reservation, existing)))
}

// RemoveDHCPReservation deletes the host section reserving the MAC.
func (o *OpenWrt) RemoveDHCPReservation(ctx context.Context, mac string) error {
	mac, err := domain.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	s, err := o.requireSession()
	if err != nil {
		return err
	}

	sections, err := o.uciShow(ctx, s, "dhcp")
	if err != nil {
		return o.fail("remove_dhcp_reservation", err)
	}
	host, ok := findHost(sections, mac)
	if !ok {
		return domain.NewError(domain.KindNotFound, "no DHCP reservation for %s", mac)
	}
	plan := CommandPlan{Name: "remove DHCP reservation", Steps: []string{
		"uci delete dhcp." + host.Name,
		"uci commit dhcp",
		"/etc/init.d/dnsmasq restart",
	}}
	return o.fail("remove_dhcp_reservation", o.runPlan(ctx, s, plan))
}

// GetPortForwards lists DNAT redirect sections of the firewall config.
func (o *OpenWrt) GetPortForwards(ctx context.Context) ([]domain.PortForward, error) {
	s, err := o.requireSession()
	if err != nil {
		return nil, err
	}
	sections, err := o.uciShow(ctx, s, "firewall")
	if err != nil {
		return nil, o.fail("get_port_forwards", err)
	}
	rules := redirectRules(sections)
	if rules == nil {
		rules = []domain.PortForward{}
	}
	return rules, nil
}

// PortForwardPlan returns the plan that appends a wan to lan DNAT
// redirect for the rule.
func PortForwardPlan(rule domain.PortForward) CommandPlan {
	const section = "firewall.@redirect[-1]"
	set := func(option, value string) string {
		return "uci set " + section + "." + option + "=" + shellQuote(value)
	}
	return CommandPlan{Name: "add port forward", Steps: []string{
		"uci add firewall redirect",
		set("name", rule.Name),
		set("src", "wan"),
		set("dest", "lan"),
		set("proto", uciProto(rule.Protocol)),
		set("src_dport", strconv.Itoa(rule.ExternalPort)),
		set("dest_ip", rule.InternalIP),
		set("dest_port", strconv.Itoa(rule.InternalPort)),
		set("target", "DNAT"),
		"uci commit firewall",
		"/etc/init.d/firewall restart",
	}}
}

// AddPortForward appends a redirect. Names must be unique.
func (o *OpenWrt) AddPortForward(ctx context.Context, rule domain.PortForward) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s, err := o.requireSession()
	if err != nil {
		return err
	}

	sections, err := o.uciShow(ctx, s, "firewall")
	if err != nil {
		return o.fail("add_port_forward", err)
	}
	if _, ok := findRedirect(sections, rule.Name); ok {
		return domain.Precondition("name", rule.Name, "a port forward with this name already exists")
	}
	return o.fail("add_port_forward", o.runPlan(ctx, s, PortForwardPlan(rule)))
}

// RemovePortForward deletes the redirect with the given name.
func (o *OpenWrt) RemovePortForward(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.Precondition("name", name, "rule name is required")
	}
	s, err := o.requireSession()
	if err != nil {
		return err
	}

	sections, err := o.uciShow(ctx, s, "firewall")
	if err != nil {
		return o.fail("remove_port_forward", err)
	}
	redirect, ok := findRedirect(sections, name)
	if !ok {
		return domain.NewError(domain.KindNotFound, "no port forward named %q", name)
	}
	plan := CommandPlan{Name: "remove port forward", Steps: []string{
		"uci delete firewall." + redirect.Name,
		"uci commit firewall",
		"/etc/init.d/firewall restart",
	}}
	return o.fail("remove_port_forward", o.runPlan(ctx, s, plan))
}

// GetSystemInfo combines the board description, /proc/uptime and the WAN
// interface status. Only the board call is required; the others fill in
// what they can.
func (o *OpenWrt) GetSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	s, err := o.requireSession()
	if err != nil {
		return domain.SystemInfo{}, err
	}

	var board struct {
		Model   string `json:"model"`
		Release struct {
			Version string `json:"version"`
		} `json:"release"`
	}
	if err := o.execJSON(ctx, s, "ubus call system board", &board); err != nil {
		return domain.SystemInfo{}, o.fail("get_system_info", err)
	}
	info := domain.SystemInfo{Model: board.Model, Firmware: board.Release.Version}

	if output, err := o.exec(ctx, s, "cat /proc/uptime"); err == nil {
		if fields := strings.Fields(output); len(fields) > 0 {
			if secs, err := strconv.ParseFloat(fields[0], 64); err == nil {
				info.Uptime = time.Duration(secs) * time.Second
			}
		}
	}

	var wan struct {
		IPv4 []struct {
			Address string `json:"address"`
		} `json:"ipv4-address"`
	}
	if err := o.execJSON(ctx, s, "ubus call network.interface.wan status", &wan); err == nil && len(wan.IPv4) > 0 {
		info.WANIP = wan.IPv4[0].Address
	}
	return info, nil
}

// BackupConfiguration streams `sysupgrade -b -` over SSH into path. When
// SSH is unavailable the uci export is written instead.
func (o *OpenWrt) BackupConfiguration(ctx context.Context, path string) (string, error) {
	s, err := o.requireSession()
	if err != nil {
		return "", err
	}

	sshErr := o.backupOverSSH(ctx, path)
	if sshErr == nil {
		return path, nil
	}
	log.WithError(sshErr).WithField("address", o.address).Info("SSH backup failed, falling back to uci export")

	output, err := o.exec(ctx, s, "uci export")
	if err != nil {
		return "", o.fail("backup_configuration", err)
	}
	if err := writeFileFrom(path, strings.NewReader(output)); err != nil {
		return "", errors.WithMessage(err, "cannot store backup")
	}
	return path, nil
}

func (o *OpenWrt) backupOverSSH(ctx context.Context, path string) error {
	client, err := dialSSH(ctx, o.address, o.creds, o.opts)
	if err != nil {
		return err
	}
	defer client.Close()

	return runSSH(ctx, client, "sysupgrade -b -", func(r io.Reader) error {
		return writeFileFrom(path, r)
	})
}
