package detect

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/go-resty/resty/v2"

	"routerctl/internal/adapter"
)

// Check is one fingerprint request against scheme://address. It reports
// false on any transport error.
type Check func(ctx context.Context, client *resty.Client, baseURL string) bool

// Fingerprint lists the checks identifying one vendor. The vendor test
// succeeds if any check succeeds; checks run in order.
type Fingerprint struct {
	Vendor adapter.Vendor
	Checks []Check
}

// Schemes are probed in this order.
var Schemes = []string{"http", "https"}

// DefaultFingerprints is the vendor precedence order: structured API
// endpoints before generic page content.
func DefaultFingerprints() []Fingerprint {
	return []Fingerprint{
		{Vendor: adapter.VendorUniFi, Checks: []Check{
			HeaderContains("/api/s/default/stat/health", "Server", "unifi"),
			BodyContains("/manage/account/login", "unifi"),
		}},
		{Vendor: adapter.VendorASUS, Checks: []Check{
			BodyContains("/Main_Login.asp", "asus", "rt-"),
			StatusIn("/ajax_status.asp", http.StatusOK),
		}},
		{Vendor: adapter.VendorNetgear, Checks: []Check{
			BodyContains("/", "netgear"),
			HeaderContains("/setup.cgi", "Server", "netgear"),
		}},
		{Vendor: adapter.VendorPfSense, Checks: []Check{
			BodyContains("/", "pfsense"),
			BodyContains("/index.php", "pfsense"),
		}},
		{Vendor: adapter.VendorOpenWrt, Checks: []Check{
			StatusIn("/cgi-bin/luci", http.StatusOK, http.StatusFound),
			BodyContains("/", "openwrt", "dd-wrt"),
		}},
		{Vendor: adapter.VendorTPLink, Checks: []Check{
			BodyContains("/", "tp-link", "tplink"),
			StatusIn("/userRpm/LoginRpm.htm", http.StatusOK),
		}},
	}
}

func get(ctx context.Context, client *resty.Client, url string) (*resty.Response, bool) {
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, false
	}
	return resp, true
}

// BodyContains succeeds when the page body contains any needle,
// compared case-insensitively.
func BodyContains(path string, needles ...string) Check {
	return func(ctx context.Context, client *resty.Client, baseURL string) bool {
		resp, ok := get(ctx, client, baseURL+path)
		if !ok {
			return false
		}
		body := strings.ToLower(resp.String())
		return slices.ContainsFunc(needles, func(n string) bool {
			return strings.Contains(body, strings.ToLower(n))
		})
	}
}

// HeaderContains succeeds when the response header contains needle,
// compared case-insensitively.
func HeaderContains(path, header, needle string) Check {
	return func(ctx context.Context, client *resty.Client, baseURL string) bool {
		resp, ok := get(ctx, client, baseURL+path)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(resp.Header().Get(header)), strings.ToLower(needle))
	}
}

// StatusIn succeeds when the response status is one of codes.
func StatusIn(path string, codes ...int) Check {
	return func(ctx context.Context, client *resty.Client, baseURL string) bool {
		resp, ok := get(ctx, client, baseURL+path)
		if !ok {
			return false
		}
		return slices.Contains(codes, resp.StatusCode())
	}
}
