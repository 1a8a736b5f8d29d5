package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"routerctl/internal/adapter"
	"routerctl/internal/adapter/adaptertest"
	"routerctl/internal/config"
	"routerctl/internal/detect"
	"routerctl/internal/domain"
)

type stubDetector struct {
	vendor adapter.Vendor
}

func (d stubDetector) Detect(ctx context.Context, address string) detect.Result {
	r := detect.Result{Vendor: d.vendor, Tests: map[string]bool{}}
	for _, key := range []string{"unifi_http", "asus_http", "netgear_http", "pfsense_http", "openwrt_http"} {
		r.Order = append(r.Order, key)
		r.Tests[key] = d.vendor != "" && key == string(d.vendor)+"_http"
		if r.Tests[key] {
			break
		}
	}
	return r
}

func (d stubDetector) DetectVendor(ctx context.Context, address string) (adapter.Vendor, bool) {
	return d.vendor, d.vendor != ""
}

// noBackup hides the fake's ConfigBackuper implementation.
type noBackup struct {
	adapter.Router
}

type harness struct {
	srv *Server

	mu      sync.Mutex
	routers map[string]*adaptertest.Router
	setup   func(r *adaptertest.Router)
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newHarness(t *testing.T, cfg *config.Config, detected adapter.Vendor) *harness {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	h := &harness{routers: map[string]*adaptertest.Router{}}
	h.srv = NewServer(cfg, WithDetector(stubDetector{vendor: detected}), WithClock(func() time.Time { return fixedNow }))

	for _, vendor := range []adapter.Vendor{adapter.VendorOpenWrt, adapter.VendorUniFi, adapter.VendorASUS} {
		vendor := vendor
		h.srv.Registry().Register(vendor, func(address string, creds domain.Credentials, opts adapter.Options) adapter.Router {
			r := adaptertest.New(vendor, address)
			r.Info = domain.SystemInfo{Model: "Fake " + string(vendor), Firmware: "1.0", Uptime: 76 * time.Hour, WANIP: "203.0.113.7"}
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.setup != nil {
				h.setup(r)
			}
			h.routers[address] = r
			if vendor == adapter.VendorASUS {
				return noBackup{r}
			}
			return r
		})
	}
	t.Cleanup(func() { h.srv.Close(context.Background()) })
	return h
}

func (h *harness) router(address string) *adaptertest.Router {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.routers[address]
}

func (h *harness) call(t *testing.T, tool string, args Args) Result {
	t.Helper()
	return h.srv.Call(context.Background(), tool, args)
}

func (h *harness) connect(t *testing.T, address string, vendor adapter.Vendor) {
	t.Helper()
	res := h.call(t, "connect_router", Args{"ip": address, "router_type": string(vendor), "password": "pw"})
	require.True(t, res.Success, res.Text)
}

func TestCallUnknownTool(t *testing.T) {
	h := newHarness(t, nil, "")
	res := h.call(t, "reboot_router", nil)
	require.False(t, res.Success)
	require.Equal(t, "Error: unknown tool 'reboot_router'", res.Text)
}

func TestToolsCatalog(t *testing.T) {
	h := newHarness(t, nil, "")
	var names []string
	for _, tool := range h.srv.Tools() {
		names = append(names, tool.Name)
	}
	require.Equal(t, []string{
		"add_dhcp_reservation", "add_port_forward", "backup_configuration",
		"connect_router", "detect_router_type", "disconnect_router",
		"get_system_info", "list_connected_devices", "list_connections",
		"list_dhcp_leases", "list_port_forwards", "remove_dhcp_reservation",
		"remove_port_forward",
	}, names)

	tool, ok := h.srv.Lookup("GET_NETWORK_STATUS")
	require.True(t, ok)
	require.Equal(t, "get_system_info", tool.Name)

	tool, ok = h.srv.Lookup("add_port_forward")
	require.True(t, ok)
	schema := tool.InputSchema()
	require.Equal(t, []string{"name", "external_port", "internal_ip"}, schema["required"])
}

func TestConnectReservationAndLeases(t *testing.T) {
	h := newHarness(t, nil, "")
	res := h.call(t, "connect_router", Args{"ip": "192.168.1.1", "router_type": "OpenWrt", "username": "root"})
	require.True(t, res.Success, res.Text)
	require.Equal(t, "Connected to openwrt router at 192.168.1.1 (Fake openwrt)", res.Text)

	h.router("192.168.1.1").Leases = []domain.NetworkDevice{
		{MACAddress: "11:22:33:44:55:66", IPAddress: "192.168.1.20", Hostname: "laptop", IsActive: true},
	}

	res = h.call(t, "add_dhcp_reservation", Args{"ip": "192.168.1.1", "mac": "AA-BB-CC-DD-EE-FF", "ip_address": "192.168.1.50", "hostname": "printer"})
	require.True(t, res.Success, res.Text)
	require.Equal(t, "Added DHCP reservation: aa:bb:cc:dd:ee:ff -> 192.168.1.50 (printer)", res.Text)

	res = h.call(t, "list_dhcp_leases", Args{"ip": "192.168.1.1"})
	require.True(t, res.Success, res.Text)
	require.Contains(t, res.Text, "DHCP Leases (2):")
	require.Contains(t, res.Text, "MAC: aa:bb:cc:dd:ee:ff | IP: 192.168.1.50 | Hostname: printer | Status: Reserved")
	require.Contains(t, res.Text, "MAC: 11:22:33:44:55:66 | IP: 192.168.1.20 | Hostname: laptop | Status: Active")

	res = h.call(t, "list_connected_devices", Args{"ip": "192.168.1.1"})
	require.True(t, res.Success, res.Text)
	require.Contains(t, res.Text, "Connected Devices (1):")
	require.NotContains(t, res.Text, "printer")

	res = h.call(t, "remove_dhcp_reservation", Args{"ip": "192.168.1.1", "mac": "aa:bb:cc:dd:ee:ff"})
	require.True(t, res.Success, res.Text)

	res = h.call(t, "remove_dhcp_reservation", Args{"ip": "192.168.1.1", "mac": "aa:bb:cc:dd:ee:ff"})
	require.False(t, res.Success)
	require.Contains(t, res.Text, "Failed to remove DHCP reservation: NotFound")
}

func TestOperationWithoutSessionFails(t *testing.T) {
	h := newHarness(t, nil, "")
	res := h.call(t, "list_port_forwards", Args{"ip": "10.0.0.1"})
	require.False(t, res.Success)
	require.Equal(t, "Failed to list port forwards: NotConnected: no router connected at 10.0.0.1", res.Text)
}

func TestMissingAddress(t *testing.T) {
	h := newHarness(t, nil, "")
	res := h.call(t, "get_system_info", nil)
	require.False(t, res.Success)
	require.Contains(t, res.Text, "PreconditionViolation")
	require.Contains(t, res.Text, `ip=""`)
}

func TestArgumentsValidatedBeforeRouting(t *testing.T) {
	h := newHarness(t, nil, "")

	res := h.call(t, "add_dhcp_reservation", Args{"ip": "10.0.0.1", "ip_address": "10.0.0.50"})
	require.False(t, res.Success)
	require.Equal(t, `Failed to add DHCP reservation: PreconditionViolation: missing required argument (mac="")`, res.Text)

	// Malformed input is reported as such even though nothing is connected.
	res = h.call(t, "add_dhcp_reservation", Args{"ip": "10.0.0.1", "mac": "zz:zz", "ip_address": "10.0.0.50"})
	require.False(t, res.Success)
	require.Contains(t, res.Text, "PreconditionViolation")
	require.Contains(t, res.Text, "zz:zz")

	res = h.call(t, "add_port_forward", Args{"ip": "10.0.0.1", "name": "web", "external_port": "eighty", "internal_ip": "10.0.0.5"})
	require.False(t, res.Success)
	require.Contains(t, res.Text, `external_port="eighty"`)

	res = h.call(t, "add_port_forward", Args{"ip": "10.0.0.1", "name": "web", "external_port": 80, "internal_ip": "10.0.0.5", "protocol": "icmp"})
	require.False(t, res.Success)
	require.Contains(t, res.Text, "protocol")
}

func TestPortForwards(t *testing.T) {
	h := newHarness(t, nil, "")
	h.connect(t, "10.0.0.1", adapter.VendorOpenWrt)

	res := h.call(t, "list_port_forwards", Args{"ip": "10.0.0.1"})
	require.True(t, res.Success, res.Text)
	require.Equal(t, "No port forwarding rules found.", res.Text)

	res = h.call(t, "add_port_forward", Args{"ip": "10.0.0.1", "name": "web", "external_port": "8080", "internal_ip": "10.0.0.5", "internal_port": float64(80), "protocol": "both"})
	require.True(t, res.Success, res.Text)
	require.Equal(t, "Added port forward: web (8080/both -> 10.0.0.5:80)", res.Text)

	res = h.call(t, "add_port_forward", Args{"ip": "10.0.0.1", "name": "ssh", "external_port": float64(2222), "internal_ip": "10.0.0.6"})
	require.True(t, res.Success, res.Text)
	require.Equal(t, "Added port forward: ssh (2222/tcp -> 10.0.0.6:2222)", res.Text)

	res = h.call(t, "list_port_forwards", Args{"ip": "10.0.0.1"})
	require.True(t, res.Success, res.Text)
	require.Contains(t, res.Text, "Name: web | External: 8080 | Internal: 10.0.0.5:80 | Protocol: both | enabled")

	res = h.call(t, "remove_port_forward", Args{"ip": "10.0.0.1", "name": "web"})
	require.True(t, res.Success, res.Text)

	res = h.call(t, "remove_port_forward", Args{"ip": "10.0.0.1", "name": "web"})
	require.False(t, res.Success)
	require.Contains(t, res.Text, "NotFound")
}

func TestAutoConnectToConfiguredRouter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Router = config.RouterConfig{Address: "192.168.8.1", Type: "openwrt", Username: "root", Password: "pw"}
	h := newHarness(t, cfg, "")

	res := h.call(t, "list_port_forwards", nil)
	require.True(t, res.Success, res.Text)
	res = h.call(t, "get_network_status", nil)
	require.True(t, res.Success, res.Text)

	require.EqualValues(t, 1, h.router("192.168.8.1").Connects.Load())
	require.Len(t, h.srv.Connections(), 1)
}

func TestAutoConnectDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Router = config.RouterConfig{Address: "192.168.8.1", Type: "openwrt", Username: "root"}
	off := false
	cfg.AutoConnect = &off
	h := newHarness(t, cfg, "")

	res := h.call(t, "list_port_forwards", nil)
	require.False(t, res.Success)
	require.Contains(t, res.Text, "NotConnected")
}

func TestConnectFailureKeepsNothing(t *testing.T) {
	h := newHarness(t, nil, "")
	h.setup = func(r *adaptertest.Router) {
		r.ConnectErr = domain.NewError(domain.KindAuthenticationFailed, "login rejected by %s", r.Addr)
	}
	res := h.call(t, "connect_router", Args{"ip": "10.0.0.1", "router_type": "openwrt"})
	require.False(t, res.Success)
	require.Equal(t, "Failed to connect to router: AuthenticationFailed: login rejected by 10.0.0.1", res.Text)
	require.Empty(t, h.srv.Connections())

	errs := testutil.ToFloat64(h.srv.Metrics().AdapterErrors.WithLabelValues("openwrt", "AuthenticationFailed"))
	require.EqualValues(t, 1, errs)
}

func TestConnectDetectsVendor(t *testing.T) {
	h := newHarness(t, nil, adapter.VendorUniFi)
	res := h.call(t, "connect_router", Args{"ip": "10.0.0.2"})
	require.True(t, res.Success, res.Text)
	require.Contains(t, res.Text, "Connected to unifi router at 10.0.0.2")

	res = h.call(t, "connect_router", Args{"ip": "10.0.0.3", "router_type": "tplink"})
	require.False(t, res.Success)
	require.Equal(t, "Failed to connect to router: UnknownVendor: unsupported router type: tplink", res.Text)
}

func TestConnectDetectionFails(t *testing.T) {
	h := newHarness(t, nil, "")
	res := h.call(t, "connect_router", Args{"ip": "10.0.0.2", "router_type": "auto"})
	require.False(t, res.Success)
	require.Contains(t, res.Text, "DetectionFailed: router type could not be determined")
}

func TestDetectRouterType(t *testing.T) {
	h := newHarness(t, nil, adapter.VendorPfSense)
	res := h.call(t, "detect_router_type", Args{"ip": "10.0.0.1"})
	require.True(t, res.Success, res.Text)
	require.Contains(t, res.Text, "Router at 10.0.0.1 detected as pfsense")
	require.Contains(t, res.Text, "  unifi_http: false")
	require.Contains(t, res.Text, "  pfsense_http: true")
	require.NotContains(t, res.Text, "openwrt_http")

	h = newHarness(t, nil, "")
	res = h.call(t, "detect_router_type", Args{"ip": "10.0.0.1"})
	require.False(t, res.Success)
	require.Contains(t, res.Text, "DetectionFailed")
	require.Contains(t, res.Text, "  openwrt_http: false")
}

func TestDisconnectAndListConnections(t *testing.T) {
	h := newHarness(t, nil, "")
	res := h.call(t, "list_connections", nil)
	require.True(t, res.Success)
	require.Equal(t, "No active router connections.", res.Text)

	h.connect(t, "10.0.0.1", adapter.VendorOpenWrt)
	h.connect(t, "10.0.0.2", adapter.VendorUniFi)

	res = h.call(t, "list_connections", nil)
	require.True(t, res.Success)
	require.Contains(t, res.Text, "Active connections (2):")
	require.Contains(t, res.Text, "10.0.0.1 | openwrt | connected")

	res = h.call(t, "disconnect_router", Args{"ip": "10.0.0.1"})
	require.True(t, res.Success, res.Text)
	require.EqualValues(t, 1, h.router("10.0.0.1").Disconnects.Load())

	res = h.call(t, "disconnect_router", Args{"ip": "10.0.0.1"})
	require.False(t, res.Success)
	require.Contains(t, res.Text, "NotConnected")
	require.Len(t, h.srv.Connections(), 1)
}

func TestSystemInfo(t *testing.T) {
	h := newHarness(t, nil, "")
	h.connect(t, "10.0.0.1", adapter.VendorOpenWrt)

	res := h.call(t, "get_system_info", Args{"ip": "10.0.0.1"})
	require.True(t, res.Success, res.Text)
	require.Equal(t, "System Info for 10.0.0.1 (openwrt):\n"+
		"----------------------------------------\n"+
		"Model: Fake openwrt\n"+
		"Firmware: 1.0\n"+
		"Uptime: 3 days\n"+
		"WAN IP: 203.0.113.7", res.Text)
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t, nil, "")
	h.connect(t, "10.0.0.1", adapter.VendorOpenWrt)
	h.router("10.0.0.1").Panic = true

	res := h.call(t, "get_system_info", Args{"ip": "10.0.0.1"})
	require.False(t, res.Success)
	require.Equal(t, "Failed to get system info: internal error: fake router exploded", res.Text)

	// The session survives and stays usable.
	res = h.call(t, "list_port_forwards", Args{"ip": "10.0.0.1"})
	require.True(t, res.Success, res.Text)

	m := h.srv.Metrics()
	require.EqualValues(t, 1, testutil.ToFloat64(m.DispatcherCalls.WithLabelValues("get_system_info", "failure")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.DispatcherCalls.WithLabelValues("list_port_forwards", "success")))
}

func TestBackupConfiguration(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")
	h := newHarness(t, cfg, "")
	h.connect(t, "10.0.0.1", adapter.VendorOpenWrt)

	res := h.call(t, "backup_configuration", Args{"ip": "10.0.0.1"})
	require.True(t, res.Success, res.Text)
	want := filepath.Join(cfg.BackupDir, "router_backup_20240102_030405.conf")
	require.Contains(t, res.Text, "Configuration backed up to: "+want)
	require.Contains(t, res.Text, "B)")

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, "config 10.0.0.1\n", string(data))

	explicit := filepath.Join(t.TempDir(), "named.conf")
	res = h.call(t, "backup_configuration", Args{"ip": "10.0.0.1", "filename": explicit})
	require.True(t, res.Success, res.Text)
	require.FileExists(t, explicit)
}

func TestBackupUnsupported(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BackupDir = t.TempDir()
	h := newHarness(t, cfg, "")
	h.connect(t, "10.0.0.9", adapter.VendorASUS)

	res := h.call(t, "backup_configuration", Args{"ip": "10.0.0.9"})
	require.False(t, res.Success)
	require.Equal(t, "Failed to back up configuration: UnsupportedOperation: asus adapter cannot export its configuration", res.Text)
}

func TestServersDoNotShareSessions(t *testing.T) {
	a := newHarness(t, nil, "")
	b := newHarness(t, nil, "")
	a.connect(t, "10.0.0.1", adapter.VendorOpenWrt)

	require.Len(t, a.srv.Connections(), 1)
	require.Empty(t, b.srv.Connections())

	res := b.call(t, "list_port_forwards", Args{"ip": "10.0.0.1"})
	require.False(t, res.Success)
}

func TestReloadSwitchesConfiguredRouter(t *testing.T) {
	h := newHarness(t, nil, "")

	res := h.call(t, "list_port_forwards", nil)
	require.False(t, res.Success)
	require.Contains(t, res.Text, "ip=\"\"")

	cfg := config.DefaultConfig()
	cfg.Router = config.RouterConfig{Address: "192.168.8.1", Type: "openwrt", Username: "root", Password: "pw"}
	h.srv.Reload(cfg)
	h.srv.Reload(nil)

	require.Same(t, cfg, h.srv.Config())
	res = h.call(t, "list_port_forwards", nil)
	require.True(t, res.Success, res.Text)
	require.EqualValues(t, 1, h.router("192.168.8.1").Connects.Load())
}

func TestObserverSeesEveryCall(t *testing.T) {
	var events []Event
	cfg := config.DefaultConfig()
	cfg.Router.Address = "192.168.1.1"
	srv := NewServer(cfg,
		WithDetector(stubDetector{}),
		WithClock(func() time.Time { return fixedNow }),
		WithObserver(func(e Event) { events = append(events, e) }),
	)
	defer srv.Close(context.Background())

	srv.Call(context.Background(), "list_connections", nil)
	srv.Call(context.Background(), "list_port_forwards", Args{"ip": "10.0.0.9"})
	srv.Call(context.Background(), "no_such_tool", nil)

	require.Equal(t, []Event{
		{Tool: "list_connections", Address: "192.168.1.1", Success: true, Text: "No active router connections.", Time: fixedNow},
		{Tool: "list_port_forwards", Address: "10.0.0.9", Success: false, Text: events[1].Text, Time: fixedNow},
	}, events)
	require.Contains(t, events[1].Text, "NotConnected")
}

// Test that a backup refused before reaching a router leaves no backup
// directory behind.
func TestBackupWithoutSessionCreatesNothing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")
	h := newHarness(t, cfg, "")

	res := h.call(t, "backup_configuration", Args{"ip": "10.0.0.1"})
	require.False(t, res.Success)
	require.NoDirExists(t, cfg.BackupDir)

	h.connect(t, "10.0.0.9", adapter.VendorASUS)
	res = h.call(t, "backup_configuration", Args{"ip": "10.0.0.9", "filename": "nested/asus.conf"})
	require.False(t, res.Success)
	require.NoDirExists(t, cfg.BackupDir)
}
