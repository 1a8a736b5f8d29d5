package adapter

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"routerctl/internal/domain"
)

// Netgear speaks the Genie SOAP interface on port 5000. Only reads are
// implemented: system info and the attached-device list.
type Netgear struct {
	base
}

var _ Router = (*Netgear)(nil)

// NewNetgear creates a Netgear adapter.
func NewNetgear(address string, creds domain.Credentials, opts Options) *Netgear {
	return &Netgear{base: newBase(VendorNetgear, address, creds, opts)}
}

const (
	netgearPort      = 5000
	netgearPath      = "/soap/server_sa/"
	netgearSessionID = "A7D88AE69687E58D9A00"
	netgearServiceNS = "urn:NETGEAR-ROUTER:service:"
)

const soapEnvelope = `<?xml version="1.0" encoding="utf-8" ?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
<SOAP-ENV:Header><SessionID>%s</SessionID></SOAP-ENV:Header>
<SOAP-ENV:Body><M1:%s xmlns:M1="%s">%s</M1:%s></SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

// soapCall posts one action ("DeviceInfo:1#GetInfo") and returns the
// leaf elements of the answer by local name.
func (n *Netgear) soapCall(ctx context.Context, s *session, action string, args map[string]string) (map[string]string, error) {
	service, method, _ := strings.Cut(action, "#")

	var params bytes.Buffer
	for _, key := range slices.Sorted(maps.Keys(args)) {
		params.WriteString("<" + key + ">")
		if err := xml.EscapeText(&params, []byte(args[key])); err != nil {
			return nil, err
		}
		params.WriteString("</" + key + ">")
	}
	body := fmt.Sprintf(soapEnvelope, s.token, method, netgearServiceNS+service, params.String(), method)

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("SOAPAction", netgearServiceNS+action).
		SetHeader("Content-Type", "text/xml;charset=UTF-8").
		SetBody(body).
		Post(s.baseURL + netgearPath)
	if err != nil {
		return nil, transportError(n.address, err)
	}
	if err := statusError(resp, method); err != nil {
		return nil, err
	}

	fields, err := soapFields(resp.Body())
	if err != nil {
		return nil, domain.WrapError(domain.KindRemote, err, "malformed %s answer", method)
	}
	switch code := fields["ResponseCode"]; code {
	case "", "0", "000":
		return fields, nil
	case "401":
		return nil, domain.NewError(domain.KindAuthenticationFailed, "%s rejected with response code %s", method, code)
	default:
		return nil, domain.NewError(domain.KindRemote, "%s failed with response code %s", method, code)
	}
}

// soapFields collects the text of every element that has no child
// elements, keyed by local name. Later duplicates are ignored.
func soapFields(body []byte) (map[string]string, error) {
	fields := map[string]string{}
	dec := xml.NewDecoder(bytes.NewReader(body))
	var text strings.Builder
	leaf := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return fields, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			text.Reset()
			leaf = true
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if leaf {
				if _, dup := fields[t.Name.Local]; !dup {
					fields[t.Name.Local] = strings.TrimSpace(text.String())
				}
			}
			leaf = false
		}
	}
}

// Connect performs SOAPLogin.
func (n *Netgear) Connect(ctx context.Context) error {
	n.replaceSession(nil)

	s := &session{
		client:  newRESTClient(n.opts),
		baseURL: hostURL("http", n.address, netgearPort),
		token:   netgearSessionID,
	}
	_, err := n.soapCall(ctx, s, "DeviceConfig:1#SOAPLogin", map[string]string{
		"Username": n.creds.Username,
		"Password": n.creds.Password,
	})
	if err != nil {
		s.close()
		return n.fail("connect", err)
	}

	n.replaceSession(s)
	log.WithField("address", n.address).Debug("Netgear session established")
	return nil
}

// Disconnect drops the session.
func (n *Netgear) Disconnect(ctx context.Context) {
	n.teardown(ctx, nil)
}

// GetDHCPLeases maps the attached-device list. Netgear encodes it as
// "count@1;ip;name;mac;...@2;ip;name;mac;...".
func (n *Netgear) GetDHCPLeases(ctx context.Context) ([]domain.NetworkDevice, error) {
	s, err := n.requireSession()
	if err != nil {
		return nil, err
	}
	fields, err := n.soapCall(ctx, s, "DeviceInfo:1#GetAttachDevice", nil)
	if err != nil {
		return nil, n.fail("get_dhcp_leases", err)
	}
	devices := parseAttachedDevices(fields["NewAttachDevice"])
	domain.SortDevices(devices)
	return devices, nil
}

func parseAttachedDevices(raw string) []domain.NetworkDevice {
	devices := []domain.NetworkDevice{}
	entries := strings.Split(raw, "@")
	for _, entry := range entries[1:] {
		parts := strings.Split(entry, ";")
		if len(parts) < 4 {
			continue
		}
		mac, err := domain.NormalizeMAC(parts[3])
		if err != nil {
			continue
		}
		name := parts[2]
		if name == "<unknown>" || name == "--" {
			name = ""
		}
		devices = append(devices, domain.NetworkDevice{
			MACAddress: mac,
			IPAddress:  parts[1],
			Hostname:   name,
			IsActive:   true,
		})
	}
	return devices
}

// AddDHCPReservation is not implemented for Netgear.
func (n *Netgear) AddDHCPReservation(ctx context.Context, reservation domain.DHCPReservation) error {
	if err := reservation.Normalize(); err != nil {
		return err
	}
	if _, err := n.requireSession(); err != nil {
		return err
	}
	return unsupported(n.vendor, "add_dhcp_reservation")
}

// RemoveDHCPReservation is not implemented for Netgear.
func (n *Netgear) RemoveDHCPReservation(ctx context.Context, mac string) error {
	if _, err := domain.NormalizeMAC(mac); err != nil {
		return err
	}
	if _, err := n.requireSession(); err != nil {
		return err
	}
	return unsupported(n.vendor, "remove_dhcp_reservation")
}

// GetPortForwards returns no rules.
func (n *Netgear) GetPortForwards(ctx context.Context) ([]domain.PortForward, error) {
	if _, err := n.requireSession(); err != nil {
		return nil, err
	}
	return []domain.PortForward{}, nil
}

// AddPortForward is not implemented for Netgear.
func (n *Netgear) AddPortForward(ctx context.Context, rule domain.PortForward) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if _, err := n.requireSession(); err != nil {
		return err
	}
	return unsupported(n.vendor, "add_port_forward")
}

// RemovePortForward is not implemented for Netgear.
func (n *Netgear) RemovePortForward(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.Precondition("name", name, "rule name is required")
	}
	if _, err := n.requireSession(); err != nil {
		return err
	}
	return unsupported(n.vendor, "remove_port_forward")
}

// GetSystemInfo calls DeviceInfo GetInfo.
func (n *Netgear) GetSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	s, err := n.requireSession()
	if err != nil {
		return domain.SystemInfo{}, err
	}
	fields, err := n.soapCall(ctx, s, "DeviceInfo:1#GetInfo", nil)
	if err != nil {
		return domain.SystemInfo{}, n.fail("get_system_info", err)
	}
	model := fields["ModelName"]
	if model == "" {
		model = "Netgear router"
	}
	return domain.SystemInfo{
		Model:    model,
		Firmware: fields["Firmwareversion"],
	}, nil
}
