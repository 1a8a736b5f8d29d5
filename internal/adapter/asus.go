package adapter

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"routerctl/internal/domain"
)

// ASUS talks to the appGet.cgi hook interface of ASUSWRT firmware using
// HTTP basic authentication. The hook interface is read-only; mutations
// are not supported.
type ASUS struct {
	base
}

var _ Router = (*ASUS)(nil)

// NewASUS creates an ASUS adapter.
func NewASUS(address string, creds domain.Credentials, opts Options) *ASUS {
	return &ASUS{base: newBase(VendorASUS, address, creds, opts)}
}

const asusProbeHook = "get_cfg_clientlist()"

// asusClient is an entry of the get_clientlist() map
type asusClient struct {
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Name     string `json:"name"`
	NickName string `json:"nickName"`
	IsOnline string `json:"isOnline"`
}

var asusUptimeRe = regexp.MustCompile(`\((\d+) secs since boot\)`)

// hook runs appGet.cgi hooks (joined with ';') and decodes the JSON answer
func (a *ASUS) hook(ctx context.Context, s *session, result any, hooks ...string) error {
	req := s.client.R().
		SetContext(ctx).
		SetQueryParam("hook", strings.Join(hooks, ";")).
		ForceContentType("application/json")
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Get(s.baseURL + "/appGet.cgi")
	if err != nil {
		return transportError(a.address, err)
	}
	return statusError(resp, "appGet.cgi")
}

// Connect checks the credentials against the client list hook.
func (a *ASUS) Connect(ctx context.Context) error {
	a.replaceSession(nil)

	client := newRESTClient(a.opts).SetBasicAuth(a.creds.Username, a.creds.Password)
	s := &session{client: client, baseURL: hostURL("http", a.address, 0)}
	if err := a.hook(ctx, s, nil, asusProbeHook); err != nil {
		s.close()
		return a.fail("connect", err)
	}

	a.replaceSession(s)
	log.WithField("address", a.address).Debug("ASUS session established")
	return nil
}

// Disconnect drops the session. Basic auth has nothing to log out of.
func (a *ASUS) Disconnect(ctx context.Context) {
	a.teardown(ctx, nil)
}

// GetDHCPLeases reads get_clientlist(). Firmware without the hook
// answers with an empty object, which yields no devices.
func (a *ASUS) GetDHCPLeases(ctx context.Context) ([]domain.NetworkDevice, error) {
	s, err := a.requireSession()
	if err != nil {
		return nil, err
	}

	var payload struct {
		Clients map[string]json.RawMessage `json:"get_clientlist"`
	}
	if err := a.hook(ctx, s, &payload, "get_clientlist()"); err != nil {
		return nil, a.fail("get_dhcp_leases", err)
	}

	devices := make([]domain.NetworkDevice, 0, len(payload.Clients))
	for key, raw := range payload.Clients {
		var c asusClient
		if err := json.Unmarshal(raw, &c); err != nil {
			// "maclist" and similar index entries
			continue
		}
		if c.MAC == "" {
			c.MAC = key
		}
		mac, err := domain.NormalizeMAC(c.MAC)
		if err != nil {
			continue
		}
		hostname := c.NickName
		if hostname == "" {
			hostname = c.Name
		}
		devices = append(devices, domain.NetworkDevice{
			MACAddress: mac,
			IPAddress:  c.IP,
			Hostname:   hostname,
			IsActive:   c.IsOnline == "1",
		})
	}
	domain.SortDevices(devices)
	return devices, nil
}

// AddDHCPReservation is not exposed by the hook interface.
func (a *ASUS) AddDHCPReservation(ctx context.Context, reservation domain.DHCPReservation) error {
	if err := reservation.Normalize(); err != nil {
		return err
	}
	if _, err := a.requireSession(); err != nil {
		return err
	}
	return unsupported(a.vendor, "add_dhcp_reservation")
}

// RemoveDHCPReservation is not exposed by the hook interface.
func (a *ASUS) RemoveDHCPReservation(ctx context.Context, mac string) error {
	if _, err := domain.NormalizeMAC(mac); err != nil {
		return err
	}
	if _, err := a.requireSession(); err != nil {
		return err
	}
	return unsupported(a.vendor, "remove_dhcp_reservation")
}

// GetPortForwards returns no rules; the hook interface does not list them.
func (a *ASUS) GetPortForwards(ctx context.Context) ([]domain.PortForward, error) {
	if _, err := a.requireSession(); err != nil {
		return nil, err
	}
	return []domain.PortForward{}, nil
}

// AddPortForward is not exposed by the hook interface.
func (a *ASUS) AddPortForward(ctx context.Context, rule domain.PortForward) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if _, err := a.requireSession(); err != nil {
		return err
	}
	return unsupported(a.vendor, "add_port_forward")
}

// RemovePortForward is not exposed by the hook interface.
func (a *ASUS) RemovePortForward(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.Precondition("name", name, "rule name is required")
	}
	if _, err := a.requireSession(); err != nil {
		return err
	}
	return unsupported(a.vendor, "remove_port_forward")
}

// GetSystemInfo reads the product id, firmware version, WAN address and
// uptime in one hook call.
func (a *ASUS) GetSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	s, err := a.requireSession()
	if err != nil {
		return domain.SystemInfo{}, err
	}

	var payload struct {
		ProductID string `json:"productid"`
		FirmVer   string `json:"firmver"`
		BuildNo   string `json:"buildno"`
		WANIP     string `json:"wan0_ipaddr"`
		Uptime    string `json:"uptime"`
	}
	err = a.hook(ctx, s, &payload,
		"nvram_get(productid)", "nvram_get(firmver)", "nvram_get(buildno)",
		"nvram_get(wan0_ipaddr)", "uptime()")
	if err != nil {
		return domain.SystemInfo{}, a.fail("get_system_info", err)
	}

	info := domain.SystemInfo{
		Model:    payload.ProductID,
		Firmware: payload.FirmVer,
		WANIP:    payload.WANIP,
	}
	if payload.BuildNo != "" {
		info.Firmware = strings.TrimSuffix(payload.FirmVer+"."+payload.BuildNo, ".")
	}
	if m := asusUptimeRe.FindStringSubmatch(payload.Uptime); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.Uptime = time.Duration(secs) * time.Second
		}
	}
	if info.Model == "" {
		info.Model = "ASUS router"
	}
	return info, nil
}
