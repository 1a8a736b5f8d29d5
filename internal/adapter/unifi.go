package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"routerctl/internal/domain"
)

// UniFi drives a UniFi Network controller through its cookie-authenticated
// REST API. Reservations are fixed-IP user records; port forwards are
// first-class REST resources.
type UniFi struct {
	base
}

var (
	_ Router         = (*UniFi)(nil)
	_ ConfigBackuper = (*UniFi)(nil)
)

// NewUniFi creates a UniFi adapter. The address may carry a port;
// otherwise Options.UniFiPort is used.
func NewUniFi(address string, creds domain.Credentials, opts Options) *UniFi {
	return &UniFi{base: newBase(VendorUniFi, address, creds, opts)}
}

// unifiEnvelope is the controller's response wrapper
type unifiEnvelope[T any] struct {
	Meta struct {
		RC  string `json:"rc"`
		Msg string `json:"msg,omitempty"`
	} `json:"meta"`
	Data []T `json:"data"`
}

// unifiStation is an entry of stat/sta (currently associated clients)
type unifiStation struct {
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
	Name     string `json:"name,omitempty"`
	OUI      string `json:"oui,omitempty"`
}

// unifiUser is a known-client record; fixed IPs live here
type unifiUser struct {
	ID         string `json:"_id,omitempty"`
	MAC        string `json:"mac,omitempty"`
	Name       string `json:"name,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	UseFixedIP bool   `json:"use_fixedip"`
	FixedIP    string `json:"fixed_ip,omitempty"`
}

// unifiPortForward is a rest/portforward record. Ports are strings
// because the controller accepts ranges.
type unifiPortForward struct {
	ID        string `json:"_id,omitempty"`
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Interface string `json:"pfwd_interface,omitempty"`
	Src       string `json:"src,omitempty"`
	DstPort   string `json:"dst_port"`
	Fwd       string `json:"fwd"`
	FwdPort   string `json:"fwd_port"`
	Proto     string `json:"proto"`
}

// unifiSysInfo is an entry of stat/sysinfo
type unifiSysInfo struct {
	Name      string `json:"name,omitempty"`
	ModelName string `json:"model_name,omitempty"`
	Version   string `json:"version,omitempty"`
	Uptime    int64  `json:"uptime,omitempty"`
	WANIP     string `json:"wan_ip,omitempty"`
}

// unifiBackup is the answer to cmd/backup
type unifiBackup struct {
	URL string `json:"url"`
}

func (u *UniFi) sitePath(path string) string {
	return fmt.Sprintf("/api/s/%s/%s", u.opts.UniFiSite, strings.TrimPrefix(path, "/"))
}

// unifiCall sends one request and unwraps the envelope. A non-"ok" rc is
// reported as a remote error carrying the controller message.
func unifiCall[T any](ctx context.Context, u *UniFi, s *session, method, path string, body any) ([]T, error) {
	var envelope unifiEnvelope[T]
	req := s.client.R().SetContext(ctx).SetResult(&envelope)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, s.baseURL+path)
	if err != nil {
		return nil, transportError(u.address, err)
	}
	if err := statusError(resp, method+" "+path); err != nil {
		return nil, err
	}
	if envelope.Meta.RC != "" && envelope.Meta.RC != "ok" {
		return nil, domain.NewError(domain.KindRemote, "controller answered %s: %s", envelope.Meta.RC, envelope.Meta.Msg)
	}
	return envelope.Data, nil
}

// Connect logs in to the controller. The session cookie lands in the
// client's cookie jar.
func (u *UniFi) Connect(ctx context.Context) error {
	u.replaceSession(nil)

	client := newRESTClient(u.opts)
	baseURL := hostURL("https", u.address, u.opts.UniFiPort)
	s := &session{client: client, baseURL: baseURL}
	failConnect := func(err error) error {
		s.close()
		return u.fail("connect", err)
	}
	resp, err := client.R().
		SetContext(ctx).
		SetBody(map[string]any{"username": u.creds.Username, "password": u.creds.Password}).
		Post(baseURL + "/api/login")
	if err != nil {
		return failConnect(transportError(u.address, err))
	}
	switch {
	case resp.StatusCode() == http.StatusBadRequest, resp.StatusCode() == http.StatusUnauthorized, resp.StatusCode() == http.StatusForbidden:
		return failConnect(domain.NewError(domain.KindAuthenticationFailed, "controller rejected credentials for %s", u.creds.Username))
	case !resp.IsSuccess():
		return failConnect(statusError(resp, "login"))
	}

	u.replaceSession(s)
	log.WithField("address", u.address).Debug("UniFi session established")
	return nil
}

// Disconnect logs out best-effort and drops the session.
func (u *UniFi) Disconnect(ctx context.Context) {
	u.teardown(ctx, func(ctx context.Context, s *session) error {
		_, err := s.client.R().SetContext(ctx).Post(s.baseURL + "/api/logout")
		return err
	})
}

func (u *UniFi) users(ctx context.Context, s *session) ([]unifiUser, error) {
	return unifiCall[unifiUser](ctx, u, s, http.MethodGet, u.sitePath("rest/user"), nil)
}

// GetDHCPLeases maps associated clients to active devices and adds
// fixed-IP users that are not currently associated.
func (u *UniFi) GetDHCPLeases(ctx context.Context) ([]domain.NetworkDevice, error) {
	s, err := u.requireSession()
	if err != nil {
		return nil, err
	}

	stations, err := unifiCall[unifiStation](ctx, u, s, http.MethodGet, u.sitePath("stat/sta"), nil)
	if err != nil {
		return nil, u.fail("get_dhcp_leases", err)
	}
	users, err := u.users(ctx, s)
	if err != nil {
		return nil, u.fail("get_dhcp_leases", err)
	}

	leases := make([]domain.NetworkDevice, 0, len(stations))
	for _, st := range stations {
		hostname := st.Hostname
		if hostname == "" {
			hostname = st.Name
		}
		leases = append(leases, domain.NetworkDevice{
			MACAddress: st.MAC,
			IPAddress:  st.IP,
			Hostname:   hostname,
			IsActive:   true,
		})
	}

	var reservations []domain.DHCPReservation
	for _, user := range users {
		if !user.UseFixedIP {
			continue
		}
		reservations = append(reservations, domain.DHCPReservation{
			MACAddress: user.MAC,
			IPAddress:  user.FixedIP,
			Hostname:   user.Name,
		})
	}
	return domain.MergeReservations(leases, reservations), nil
}

// AddDHCPReservation sets a fixed IP on the user record for the MAC,
// creating the record if the controller has never seen the client.
func (u *UniFi) AddDHCPReservation(ctx context.Context, reservation domain.DHCPReservation) error {
	if err := reservation.Normalize(); err != nil {
		return err
	}
	s, err := u.requireSession()
	if err != nil {
		return err
	}

	name := reservation.Hostname
	if name == "" {
		name = "Device-" + strings.ReplaceAll(reservation.MACAddress[len(reservation.MACAddress)-5:], ":", "")
	}

	users, err := u.users(ctx, s)
	if err != nil {
		return u.fail("add_dhcp_reservation", err)
	}
	for _, user := range users {
		if !domain.SameMAC(user.MAC, reservation.MACAddress) {
			continue
		}
		update := unifiUser{UseFixedIP: true, FixedIP: reservation.IPAddress, Name: name}
		_, err := unifiCall[unifiUser](ctx, u, s, http.MethodPut, u.sitePath("rest/user/"+user.ID), update)
		return u.fail("add_dhcp_reservation", err)
	}

	create := unifiUser{MAC: reservation.MACAddress, UseFixedIP: true, FixedIP: reservation.IPAddress, Name: name}
	_, err = unifiCall[unifiUser](ctx, u, s, http.MethodPost, u.sitePath("rest/user"), create)
	return u.fail("add_dhcp_reservation", err)
}

// RemoveDHCPReservation clears the fixed IP from the user record.
func (u *UniFi) RemoveDHCPReservation(ctx context.Context, mac string) error {
	mac, err := domain.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	s, err := u.requireSession()
	if err != nil {
		return err
	}

	users, err := u.users(ctx, s)
	if err != nil {
		return u.fail("remove_dhcp_reservation", err)
	}
	for _, user := range users {
		if !user.UseFixedIP || !domain.SameMAC(user.MAC, mac) {
			continue
		}
		_, err := unifiCall[unifiUser](ctx, u, s, http.MethodPut, u.sitePath("rest/user/"+user.ID), map[string]any{"use_fixedip": false})
		return u.fail("remove_dhcp_reservation", err)
	}
	return domain.NewError(domain.KindNotFound, "no DHCP reservation for %s", mac)
}

func (u *UniFi) portForwards(ctx context.Context, s *session) ([]unifiPortForward, error) {
	return unifiCall[unifiPortForward](ctx, u, s, http.MethodGet, u.sitePath("rest/portforward"), nil)
}

// GetPortForwards lists rest/portforward records.
func (u *UniFi) GetPortForwards(ctx context.Context) ([]domain.PortForward, error) {
	s, err := u.requireSession()
	if err != nil {
		return nil, err
	}
	records, err := u.portForwards(ctx, s)
	if err != nil {
		return nil, u.fail("get_port_forwards", err)
	}

	rules := make([]domain.PortForward, 0, len(records))
	for _, r := range records {
		proto := domain.ProtocolTCP
		if p, err := domain.ParseProtocol(r.Proto); err == nil {
			proto = p
		}
		ext, _ := strconv.Atoi(r.DstPort)
		internal, _ := strconv.Atoi(r.FwdPort)
		rules = append(rules, domain.PortForward{
			Name:         r.Name,
			ExternalPort: ext,
			InternalIP:   r.Fwd,
			InternalPort: internal,
			Protocol:     proto,
			Enabled:      r.Enabled,
		})
	}
	return rules, nil
}

// AddPortForward creates a rule. A rule with the same name is never
// overwritten.
func (u *UniFi) AddPortForward(ctx context.Context, rule domain.PortForward) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s, err := u.requireSession()
	if err != nil {
		return err
	}

	existing, err := u.portForwards(ctx, s)
	if err != nil {
		return u.fail("add_port_forward", err)
	}
	for _, r := range existing {
		if strings.EqualFold(r.Name, rule.Name) {
			return domain.Precondition("name", rule.Name, "a port forward with this name already exists")
		}
	}

	proto := string(rule.Protocol)
	if rule.Protocol == domain.ProtocolBoth {
		proto = "tcp_udp"
	}
	record := unifiPortForward{
		Name:      rule.Name,
		Enabled:   true,
		Interface: "wan",
		Src:       "any",
		DstPort:   strconv.Itoa(rule.ExternalPort),
		Fwd:       rule.InternalIP,
		FwdPort:   strconv.Itoa(rule.InternalPort),
		Proto:     proto,
	}
	_, err = unifiCall[unifiPortForward](ctx, u, s, http.MethodPost, u.sitePath("rest/portforward"), record)
	return u.fail("add_port_forward", err)
}

// RemovePortForward deletes the rule with the given name.
func (u *UniFi) RemovePortForward(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.Precondition("name", name, "rule name is required")
	}
	s, err := u.requireSession()
	if err != nil {
		return err
	}

	records, err := u.portForwards(ctx, s)
	if err != nil {
		return u.fail("remove_port_forward", err)
	}
	for _, r := range records {
		if r.Name != name {
			continue
		}
		_, err := unifiCall[unifiPortForward](ctx, u, s, http.MethodDelete, u.sitePath("rest/portforward/"+r.ID), nil)
		return u.fail("remove_port_forward", err)
	}
	return domain.NewError(domain.KindNotFound, "no port forward named %q", name)
}

// GetSystemInfo reads stat/sysinfo.
func (u *UniFi) GetSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	s, err := u.requireSession()
	if err != nil {
		return domain.SystemInfo{}, err
	}
	data, err := unifiCall[unifiSysInfo](ctx, u, s, http.MethodGet, u.sitePath("stat/sysinfo"), nil)
	if err != nil {
		return domain.SystemInfo{}, u.fail("get_system_info", err)
	}
	if len(data) == 0 {
		return domain.SystemInfo{}, nil
	}

	info := data[0]
	model := info.ModelName
	if model == "" {
		model = info.Name
	}
	return domain.SystemInfo{
		Model:    model,
		Firmware: info.Version,
		Uptime:   time.Duration(info.Uptime) * time.Second,
		WANIP:    info.WANIP,
	}, nil
}

// BackupConfiguration asks the controller for a backup archive (.unf)
// and downloads it to path.
func (u *UniFi) BackupConfiguration(ctx context.Context, path string) (string, error) {
	s, err := u.requireSession()
	if err != nil {
		return "", err
	}

	backups, err := unifiCall[unifiBackup](ctx, u, s, http.MethodPost, u.sitePath("cmd/backup"), map[string]any{"cmd": "backup", "days": 0})
	if err != nil {
		return "", u.fail("backup_configuration", err)
	}
	if len(backups) == 0 || backups[0].URL == "" {
		return "", u.fail("backup_configuration", domain.NewError(domain.KindRemote, "controller returned no backup URL"))
	}

	resp, err := s.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(s.baseURL + backups[0].URL)
	if err != nil {
		return "", u.fail("backup_configuration", transportError(u.address, err))
	}
	body := resp.RawBody()
	defer body.Close()
	if err := statusError(resp, "backup download"); err != nil {
		return "", u.fail("backup_configuration", err)
	}

	if err := writeFileFrom(path, body); err != nil {
		return "", errors.WithMessage(err, "cannot store backup")
	}
	return path, nil
}
