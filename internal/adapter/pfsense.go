package adapter

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"routerctl/internal/domain"
)

// PfSense scrapes the pfSense web GUI. Login is a form post protected by
// csrf-magic; data is read from rendered pages. The GUI offers no stable
// write interface, so mutations are not supported.
type PfSense struct {
	base
}

var _ Router = (*PfSense)(nil)

// NewPfSense creates a pfSense adapter.
func NewPfSense(address string, creds domain.Credentials, opts Options) *PfSense {
	return &PfSense{base: newBase(VendorPfSense, address, creds, opts)}
}

// dashboardMarker appears on every page rendered for a logged-in user
const dashboardMarker = "Dashboard"

// page fetches a GUI page and parses it
func (p *PfSense) page(ctx context.Context, client *resty.Client, url string) (*html.Node, error) {
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, transportError(p.address, err)
	}
	if err := statusError(resp, url); err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(resp.String()))
	if err != nil {
		return nil, domain.WrapError(domain.KindRemote, err, "cannot parse %s", url)
	}
	return doc, nil
}

// Connect fetches the login form for its CSRF token and posts the
// credentials. The login succeeded iff the answer is the dashboard.
func (p *PfSense) Connect(ctx context.Context) error {
	p.replaceSession(nil)

	client := newRESTClient(p.opts)
	baseURL := hostURL("https", p.address, 0)
	s := &session{client: client, baseURL: baseURL}
	failConnect := func(err error) error {
		s.close()
		return p.fail("connect", err)
	}

	doc, err := p.page(ctx, client, baseURL+"/index.php")
	if err != nil {
		return failConnect(err)
	}
	token := findCSRFToken(doc)

	form := map[string]string{
		"usernamefld": p.creds.Username,
		"passwordfld": p.creds.Password,
		"login":       "Sign In",
	}
	if token != "" {
		form["__csrf_magic"] = token
	}
	resp, err := client.R().SetContext(ctx).SetFormData(form).Post(baseURL + "/index.php")
	if err != nil {
		return failConnect(transportError(p.address, err))
	}
	if err := statusError(resp, "login"); err != nil {
		return failConnect(err)
	}
	if !strings.Contains(resp.String(), dashboardMarker) {
		return failConnect(domain.NewError(domain.KindAuthenticationFailed, "pfSense rejected credentials for %s", p.creds.Username))
	}

	s.token = token
	p.replaceSession(s)
	log.WithField("address", p.address).Debug("pfSense session established")
	return nil
}

// Disconnect requests the logout page best-effort.
func (p *PfSense) Disconnect(ctx context.Context) {
	p.teardown(ctx, func(ctx context.Context, s *session) error {
		_, err := s.client.R().SetContext(ctx).Get(s.baseURL + "/index.php?logout")
		return err
	})
}

// GetDHCPLeases parses the lease table.
func (p *PfSense) GetDHCPLeases(ctx context.Context) ([]domain.NetworkDevice, error) {
	s, err := p.requireSession()
	if err != nil {
		return nil, err
	}
	doc, err := p.page(ctx, s.client, s.baseURL+"/status_dhcp_leases.php")
	if err != nil {
		return nil, p.fail("get_dhcp_leases", err)
	}
	devices := parsePfSenseLeases(doc)
	if devices == nil {
		devices = []domain.NetworkDevice{}
	}
	return devices, nil
}

// AddDHCPReservation is not supported through the GUI.
func (p *PfSense) AddDHCPReservation(ctx context.Context, reservation domain.DHCPReservation) error {
	if err := reservation.Normalize(); err != nil {
		return err
	}
	if _, err := p.requireSession(); err != nil {
		return err
	}
	return unsupported(p.vendor, "add_dhcp_reservation")
}

// RemoveDHCPReservation is not supported through the GUI.
func (p *PfSense) RemoveDHCPReservation(ctx context.Context, mac string) error {
	if _, err := domain.NormalizeMAC(mac); err != nil {
		return err
	}
	if _, err := p.requireSession(); err != nil {
		return err
	}
	return unsupported(p.vendor, "remove_dhcp_reservation")
}

// GetPortForwards returns no rules.
func (p *PfSense) GetPortForwards(ctx context.Context) ([]domain.PortForward, error) {
	if _, err := p.requireSession(); err != nil {
		return nil, err
	}
	return []domain.PortForward{}, nil
}

// AddPortForward is not supported through the GUI.
func (p *PfSense) AddPortForward(ctx context.Context, rule domain.PortForward) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if _, err := p.requireSession(); err != nil {
		return err
	}
	return unsupported(p.vendor, "add_port_forward")
}

// RemovePortForward is not supported through the GUI.
func (p *PfSense) RemovePortForward(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.Precondition("name", name, "rule name is required")
	}
	if _, err := p.requireSession(); err != nil {
		return err
	}
	return unsupported(p.vendor, "remove_port_forward")
}

// GetSystemInfo reads the dashboard's system information widget.
func (p *PfSense) GetSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	s, err := p.requireSession()
	if err != nil {
		return domain.SystemInfo{}, err
	}
	doc, err := p.page(ctx, s.client, s.baseURL+"/index.php")
	if err != nil {
		return domain.SystemInfo{}, p.fail("get_system_info", err)
	}
	return parsePfSenseDashboard(doc), nil
}
