package adapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"

	"routerctl/internal/domain"
)

const netgearURL = "http://192.168.1.1:5000"

func soapAnswer(code, inner string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/">
<soap-env:Body>` + inner + `<ResponseCode>` + code + `</ResponseCode></soap-env:Body></soap-env:Envelope>`
}

// bodyContains matches requests whose body contains fragment. The SOAP
// content type is not one gock can match bodies for.
func bodyContains(fragment string) gock.MatchFunc {
	return func(r *http.Request, _ *gock.Request) (bool, error) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return false, err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		return strings.Contains(string(body), fragment), nil
	}
}

func connectedNetgear(t *testing.T) *Netgear {
	t.Helper()
	gock.New(netgearURL).
		Post("/soap/server_sa/").
		MatchHeader("SOAPAction", "DeviceConfig:1#SOAPLogin").
		AddMatcher(bodyContains("<Username>admin</Username><Password>s&amp;cret</Password>")).
		Reply(200).
		BodyString(soapAnswer("000", "<m:SOAPLoginResponse/>"))

	n := NewNetgear("192.168.1.1", domain.Credentials{Username: "admin", Password: "s&cret"}, mockOptions())
	require.NoError(t, n.Connect(context.Background()))
	return n
}

func TestNetgearConnectRejected(t *testing.T) {
	defer gock.Off()
	gock.New(netgearURL).Post("/soap/server_sa/").Reply(200).BodyString(soapAnswer("401", ""))

	n := NewNetgear("192.168.1.1", domain.Credentials{Username: "admin", Password: "bad"}, mockOptions())
	require.ErrorIs(t, n.Connect(context.Background()), domain.ErrAuthenticationFailed)
	require.False(t, n.Connected())
}

func TestNetgearGetDHCPLeases(t *testing.T) {
	defer gock.Off()
	n := connectedNetgear(t)
	gock.New(netgearURL).
		Post("/soap/server_sa/").
		MatchHeader("SOAPAction", "GetAttachDevice").
		Reply(200).
		BodyString(soapAnswer("000", "<m:GetAttachDeviceResponse><NewAttachDevice>2@1;192.168.1.8;&lt;unknown&gt;;28:C6:8E:00:00:01;wireless;72;100;Allow@2;192.168.1.4;desktop;28:C6:8E:00:00:02;wired</NewAttachDevice></m:GetAttachDeviceResponse>"))

	devices, err := n.GetDHCPLeases(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.NetworkDevice{
		{MACAddress: "28:c6:8e:00:00:02", IPAddress: "192.168.1.4", Hostname: "desktop", IsActive: true},
		{MACAddress: "28:c6:8e:00:00:01", IPAddress: "192.168.1.8", IsActive: true},
	}, devices)
}

func TestNetgearGetSystemInfo(t *testing.T) {
	defer gock.Off()
	n := connectedNetgear(t)
	gock.New(netgearURL).
		Post("/soap/server_sa/").
		MatchHeader("SOAPAction", "DeviceInfo:1#GetInfo").
		Reply(200).
		BodyString(soapAnswer("000", "<m:GetInfoResponse><ModelName>R7000</ModelName><Firmwareversion>V1.0.11.123</Firmwareversion></m:GetInfoResponse>"))

	info, err := n.GetSystemInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.SystemInfo{Model: "R7000", Firmware: "V1.0.11.123"}, info)

	require.ErrorIs(t, n.AddPortForward(context.Background(), domain.PortForward{Name: "a", ExternalPort: 1, InternalIP: "192.168.1.2", InternalPort: 1}), domain.ErrUnsupportedOperation)
}
