package detect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"routerctl/internal/adapter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// routerServer serves fixed bodies and statuses by path; everything else
// is a 404. It counts requests.
type routerServer struct {
	pages    map[string]string
	statuses map[string]int
	headers  map[string]map[string]string
	hits     atomic.Int32
}

func (s *routerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	for k, v := range s.headers[r.URL.Path] {
		w.Header().Set(k, v)
	}
	if code, ok := s.statuses[r.URL.Path]; ok {
		w.WriteHeader(code)
		return
	}
	if body, ok := s.pages[r.URL.Path]; ok {
		_, _ = w.Write([]byte(body))
		return
	}
	http.NotFound(w, r)
}

func startRouter(t *testing.T, rs *routerServer) string {
	srv := httptest.NewServer(rs)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func newDetector(t *testing.T, parallel bool) *Detector {
	d := New(Options{Timeout: 2 * time.Second, Parallel: parallel})
	t.Cleanup(d.Close)
	return d
}

func TestKeysInPrecedenceOrder(t *testing.T) {
	d := New(Options{})
	defer d.Close()
	require.Equal(t, []string{
		"unifi_http", "asus_http", "netgear_http", "pfsense_http", "openwrt_http", "tplink_http",
		"unifi_https", "asus_https", "netgear_https", "pfsense_https", "openwrt_https", "tplink_https",
	}, d.Keys())
}

// Test that an address matching only the pfSense fingerprint is detected
// as pfSense and that probing stops there.
func TestDetectPfSenseOnly(t *testing.T) {
	address := startRouter(t, &routerServer{pages: map[string]string{
		"/": "<html><title>pfSense - Login</title></html>",
	}})

	for _, parallel := range []bool{false, true} {
		result := newDetector(t, parallel).Detect(context.Background(), address)
		require.Equal(t, adapter.VendorPfSense, result.Vendor, "parallel=%v", parallel)
		require.True(t, result.Tests["pfsense_http"])
		require.Equal(t, []string{"unifi_http", "asus_http", "netgear_http", "pfsense_http"}, result.Order)
		for _, key := range result.Order[:3] {
			require.False(t, result.Tests[key], key)
		}
		require.NotContains(t, result.Tests, "openwrt_http")
		require.NotContains(t, result.Tests, "pfsense_https")
	}
}

// Test that an address matching nothing yields no vendor and every test
// recorded as false.
func TestDetectNothing(t *testing.T) {
	address := startRouter(t, &routerServer{pages: map[string]string{"/": "<html>hello</html>"}})

	for _, parallel := range []bool{false, true} {
		d := newDetector(t, parallel)
		result := d.Detect(context.Background(), address)
		require.False(t, result.Detected())
		require.Empty(t, result.Vendor)
		require.Equal(t, d.Keys(), result.Order)
		require.Len(t, result.Tests, 12)
		for key, ok := range result.Tests {
			require.False(t, ok, key)
		}
	}
}

// Test that a LuCI endpoint selects OpenWrt over http.
func TestDetectOpenWrtHTTP(t *testing.T) {
	address := startRouter(t, &routerServer{pages: map[string]string{
		"/":             "<html>LuCI</html>",
		"/cgi-bin/luci": "<html>login</html>",
	}})

	for _, parallel := range []bool{false, true} {
		d := newDetector(t, parallel)
		vendor, ok := d.DetectVendor(context.Background(), address)
		require.True(t, ok)
		require.Equal(t, adapter.VendorOpenWrt, vendor)
	}
}

// Test that a structured signal takes precedence over a later vendor's
// content match, even when both succeed.
func TestDetectPrecedence(t *testing.T) {
	address := startRouter(t, &routerServer{
		pages: map[string]string{
			"/":                     "<html>Powered by OpenWrt</html>",
			"/manage/account/login": "<html>UniFi Network</html>",
		},
	})

	for _, parallel := range []bool{false, true} {
		result := newDetector(t, parallel).Detect(context.Background(), address)
		require.Equal(t, adapter.VendorUniFi, result.Vendor)
		require.Equal(t, []string{"unifi_http"}, result.Order)
	}
}

// Test the header based UniFi check and the status based ASUS check.
func TestDetectHeaderAndStatusChecks(t *testing.T) {
	unifi := startRouter(t, &routerServer{
		statuses: map[string]int{"/api/s/default/stat/health": http.StatusUnauthorized},
		headers:  map[string]map[string]string{"/api/s/default/stat/health": {"Server": "UniFi Network"}},
	})
	asus := startRouter(t, &routerServer{statuses: map[string]int{"/ajax_status.asp": http.StatusOK}})

	d := newDetector(t, false)
	require.Equal(t, adapter.VendorUniFi, d.Detect(context.Background(), unifi).Vendor)
	require.Equal(t, adapter.VendorASUS, d.Detect(context.Background(), asus).Vendor)
}

// Test that an unreachable address is a clean negative result.
func TestDetectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	address := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	d := newDetector(t, true)
	result := d.Detect(context.Background(), address)
	require.False(t, result.Detected())
	require.Len(t, result.Tests, 12)
}

// Test that the observer sees every result.
func TestDetectObserver(t *testing.T) {
	address := startRouter(t, &routerServer{pages: map[string]string{"/": "TP-LINK"}})

	var seen []Result
	d := New(Options{Timeout: time.Second, OnResult: func(r Result) { seen = append(seen, r) }})
	t.Cleanup(d.Close)

	result := d.Detect(context.Background(), address)
	require.Equal(t, adapter.VendorTPLink, result.Vendor)
	require.Len(t, seen, 1)
	require.Equal(t, result.Vendor, seen[0].Vendor)
}

// Test that a cancelled context ends detection without a match.
func TestDetectCancelled(t *testing.T) {
	rs := &routerServer{pages: map[string]string{"/": "pfsense"}}
	address := startRouter(t, rs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := newDetector(t, true).Detect(ctx, address)
	require.False(t, result.Detected())
	require.Zero(t, rs.hits.Load())
}
