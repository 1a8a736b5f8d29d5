package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"

	"routerctl/internal/domain"
)

const unifiURL = "https://192.168.1.2:8443"

func mockOptions() Options {
	return Options{Timeout: time.Second, Transport: gock.NewTransport()}
}

func unifiOK(data any) map[string]any {
	return map[string]any{"meta": map[string]any{"rc": "ok"}, "data": data}
}

func connectedUniFi(t *testing.T) *UniFi {
	t.Helper()
	gock.New(unifiURL).
		Post("/api/login").
		JSON(map[string]string{"username": "admin", "password": "secret"}).
		Reply(200).
		SetHeader("Set-Cookie", "unifises=abc; Path=/").
		JSON(unifiOK([]any{}))

	u := NewUniFi("192.168.1.2", domain.Credentials{Username: "admin", Password: "secret"}, mockOptions())
	require.NoError(t, u.Connect(context.Background()))
	require.True(t, u.Connected())
	return u
}

// Test that rejected credentials are reported as an authentication
// failure and leave the adapter disconnected.
func TestUniFiConnectRejected(t *testing.T) {
	defer gock.Off()
	gock.New(unifiURL).
		Post("/api/login").
		Reply(400).
		JSON(map[string]any{"meta": map[string]any{"rc": "error", "msg": "api.err.Invalid"}})

	u := NewUniFi("192.168.1.2", domain.Credentials{Username: "admin", Password: "wrong"}, mockOptions())
	err := u.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	require.False(t, u.Connected())
}

// Test that a transport failure is classified as unreachable.
func TestUniFiConnectUnreachable(t *testing.T) {
	defer gock.Off()
	gock.New("https://other.example.org").Get("/").Reply(200)

	u := NewUniFi("192.168.1.2", domain.Credentials{}, mockOptions())
	err := u.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrUnreachable)
}

// Test that associated clients and fixed-IP users are merged into one
// sorted device list.
func TestUniFiGetDHCPLeases(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	gock.New(unifiURL).
		Get("/api/s/default/stat/sta").
		MatchHeader("Cookie", "unifises=abc").
		Reply(200).
		JSON(unifiOK([]map[string]any{
			{"mac": "AA:BB:CC:00:00:02", "ip": "192.168.1.20", "hostname": "laptop"},
			{"mac": "aa:bb:cc:00:00:01", "ip": "192.168.1.10", "name": "phone"},
		}))
	gock.New(unifiURL).
		Get("/api/s/default/rest/user").
		Reply(200).
		JSON(unifiOK([]map[string]any{
			{"_id": "u1", "mac": "aa:bb:cc:00:00:01", "use_fixedip": true, "fixed_ip": "192.168.1.10", "name": "phone"},
			{"_id": "u2", "mac": "aa:bb:cc:00:00:03", "use_fixedip": true, "fixed_ip": "192.168.1.5", "name": "printer"},
			{"_id": "u3", "mac": "aa:bb:cc:00:00:04", "use_fixedip": false},
		}))

	devices, err := u.GetDHCPLeases(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.NetworkDevice{
		{MACAddress: "aa:bb:cc:00:00:03", IPAddress: "192.168.1.5", Hostname: "printer"},
		{MACAddress: "aa:bb:cc:00:00:01", IPAddress: "192.168.1.10", Hostname: "phone", IsActive: true},
		{MACAddress: "aa:bb:cc:00:00:02", IPAddress: "192.168.1.20", Hostname: "laptop", IsActive: true},
	}, devices)
	require.True(t, gock.IsDone())
}

// Test that a reservation for an unknown MAC creates a user record with
// the generated default name.
func TestUniFiAddDHCPReservationCreatesUser(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	gock.New(unifiURL).
		Get("/api/s/default/rest/user").
		Reply(200).
		JSON(unifiOK([]any{}))
	gock.New(unifiURL).
		Post("/api/s/default/rest/user").
		JSON(map[string]any{"mac": "aa:bb:cc:dd:ee:ff", "use_fixedip": true, "fixed_ip": "192.168.1.50", "name": "Device-eeff"}).
		Reply(200).
		JSON(unifiOK([]any{}))

	err := u.AddDHCPReservation(context.Background(), domain.DHCPReservation{MACAddress: "AA-BB-CC-DD-EE-FF", IPAddress: "192.168.1.50"})
	require.NoError(t, err)
	require.True(t, gock.IsDone())
}

// Test that a reservation for a known MAC updates the existing record
// instead of creating a duplicate.
func TestUniFiAddDHCPReservationUpdatesUser(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	gock.New(unifiURL).
		Get("/api/s/default/rest/user").
		Reply(200).
		JSON(unifiOK([]map[string]any{{"_id": "5f1", "mac": "aa:bb:cc:dd:ee:ff", "use_fixedip": true, "fixed_ip": "192.168.1.40"}}))
	gock.New(unifiURL).
		Put("/api/s/default/rest/user/5f1").
		JSON(map[string]any{"use_fixedip": true, "fixed_ip": "192.168.1.50", "name": "printer"}).
		Reply(200).
		JSON(unifiOK([]any{}))

	err := u.AddDHCPReservation(context.Background(), domain.DHCPReservation{MACAddress: "aa:bb:cc:dd:ee:ff", IPAddress: "192.168.1.50", Hostname: "printer"})
	require.NoError(t, err)
	require.True(t, gock.IsDone())
}

// Test that removing a reservation that does not exist fails.
func TestUniFiRemoveMissingReservation(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	gock.New(unifiURL).
		Get("/api/s/default/rest/user").
		Reply(200).
		JSON(unifiOK([]map[string]any{{"_id": "5f1", "mac": "aa:bb:cc:dd:ee:ff", "use_fixedip": false}}))

	err := u.RemoveDHCPReservation(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// Test the port forward round trip: list, add and remove by name.
func TestUniFiPortForwards(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	existing := unifiOK([]map[string]any{{
		"_id": "pf1", "name": "ssh", "enabled": true, "dst_port": "2222",
		"fwd": "192.168.1.10", "fwd_port": "22", "proto": "tcp_udp",
	}})

	gock.New(unifiURL).Get("/api/s/default/rest/portforward").Reply(200).JSON(existing)
	rules, err := u.GetPortForwards(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.PortForward{{
		Name: "ssh", ExternalPort: 2222, InternalIP: "192.168.1.10", InternalPort: 22,
		Protocol: domain.ProtocolBoth, Enabled: true,
	}}, rules)

	gock.New(unifiURL).Get("/api/s/default/rest/portforward").Reply(200).JSON(existing)
	err = u.AddPortForward(context.Background(), domain.PortForward{Name: "ssh", ExternalPort: 22, InternalIP: "192.168.1.11", InternalPort: 22})
	require.ErrorIs(t, err, domain.ErrPreconditionViolation)

	gock.New(unifiURL).Get("/api/s/default/rest/portforward").Reply(200).JSON(existing)
	gock.New(unifiURL).
		Post("/api/s/default/rest/portforward").
		JSON(map[string]any{
			"name": "web", "enabled": true, "pfwd_interface": "wan", "src": "any",
			"dst_port": "8080", "fwd": "192.168.1.20", "fwd_port": "80", "proto": "udp",
		}).
		Reply(200).
		JSON(unifiOK([]any{}))
	err = u.AddPortForward(context.Background(), domain.PortForward{Name: "web", ExternalPort: 8080, InternalIP: "192.168.1.20", InternalPort: 80, Protocol: domain.ProtocolUDP})
	require.NoError(t, err)

	gock.New(unifiURL).Get("/api/s/default/rest/portforward").Reply(200).JSON(existing)
	gock.New(unifiURL).Delete("/api/s/default/rest/portforward/pf1").Reply(200).JSON(unifiOK([]any{}))
	require.NoError(t, u.RemovePortForward(context.Background(), "ssh"))

	gock.New(unifiURL).Get("/api/s/default/rest/portforward").Reply(200).JSON(unifiOK([]any{}))
	require.ErrorIs(t, u.RemovePortForward(context.Background(), "ssh"), domain.ErrNotFound)
	require.True(t, gock.IsDone())
}

// Test that a controller error envelope is reported as a remote error.
func TestUniFiErrorEnvelope(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	gock.New(unifiURL).
		Get("/api/s/default/stat/sysinfo").
		Reply(200).
		JSON(map[string]any{"meta": map[string]any{"rc": "error", "msg": "api.err.NoSiteContext"}})

	_, err := u.GetSystemInfo(context.Background())
	require.ErrorIs(t, err, domain.ErrRemote)
	require.Contains(t, err.Error(), "api.err.NoSiteContext")
}

// Test system info mapping.
func TestUniFiGetSystemInfo(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	gock.New(unifiURL).
		Get("/api/s/default/stat/sysinfo").
		Reply(200).
		JSON(unifiOK([]map[string]any{{"model_name": "UDM-Pro", "version": "8.0.26", "uptime": 3600, "wan_ip": "203.0.113.7"}}))

	info, err := u.GetSystemInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.SystemInfo{Model: "UDM-Pro", Firmware: "8.0.26", Uptime: time.Hour, WANIP: "203.0.113.7"}, info)
}

// Test that the backup archive is downloaded to the requested path.
func TestUniFiBackupConfiguration(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	gock.New(unifiURL).
		Post("/api/s/default/cmd/backup").
		Reply(200).
		JSON(unifiOK([]map[string]any{{"url": "/dl/backup/8.0.26.unf"}}))
	gock.New(unifiURL).
		Get("/dl/backup/8.0.26.unf").
		Reply(200).
		BodyString("archive-bytes")

	path := filepath.Join(t.TempDir(), "backup.unf")
	written, err := u.BackupConfiguration(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, path, written)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "archive-bytes", string(content))
}

// Test that disconnect clears the session even when logout fails.
func TestUniFiDisconnectUnreachable(t *testing.T) {
	defer gock.Off()
	u := connectedUniFi(t)

	u.Disconnect(context.Background())
	require.False(t, u.Connected())

	_, err := u.GetPortForwards(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)
}
