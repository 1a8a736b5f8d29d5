package detect

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"routerctl/internal/adapter"
)

const defaultTimeout = 5 * time.Second

// Options configure a Detector. The zero value probes sequentially with
// a 5s per-request timeout.
type Options struct {
	// Timeout bounds every probe request
	Timeout time.Duration
	// Parallel runs all vendor tests at once
	Parallel bool
	// Transport replaces the HTTP transport (tests)
	Transport http.RoundTripper
	// OnResult observes every finished detection
	OnResult func(Result)
}

// Result is the outcome of one detection. It is never cached.
type Result struct {
	// Vendor is empty when nothing matched
	Vendor adapter.Vendor `json:"vendor,omitempty"`
	// Tests maps "<vendor>_<scheme>" to its outcome. Tests that were
	// never run, or were cut short by an earlier match, are absent.
	Tests map[string]bool `json:"tests"`
	// Order lists the keys of Tests in precedence order
	Order []string `json:"order"`
}

// Detected reports whether a vendor matched.
func (r Result) Detected() bool {
	return r.Vendor != ""
}

// test is one (scheme, vendor) combination
type test struct {
	key         string
	scheme      string
	fingerprint Fingerprint
}

// Detector guesses a router's vendor from unauthenticated HTTP probes.
type Detector struct {
	client *resty.Client
	opts   Options
	tests  []test
}

var _ adapter.VendorDetector = (*Detector)(nil)

// New creates a detector with the default fingerprints.
func New(opts Options) *Detector {
	return NewWithFingerprints(opts, DefaultFingerprints())
}

// NewWithFingerprints creates a detector probing fingerprints in the
// given precedence order, for every scheme in Schemes.
func NewWithFingerprints(opts Options, fingerprints []Fingerprint) *Detector {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "routerctl-detect/1.0").
		//nolint:gosec // Consumer routers ship self-signed certificates.
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12})
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}

	var tests []test
	for _, scheme := range Schemes {
		for _, fp := range fingerprints {
			tests = append(tests, test{
				key:         fmt.Sprintf("%s_%s", fp.Vendor, scheme),
				scheme:      scheme,
				fingerprint: fp,
			})
		}
	}
	return &Detector{client: client, opts: opts, tests: tests}
}

// Close releases idle probe connections.
func (d *Detector) Close() {
	d.client.GetClient().CloseIdleConnections()
}

// Keys returns every test key in precedence order.
func (d *Detector) Keys() []string {
	keys := make([]string, len(d.tests))
	for i, t := range d.tests {
		keys[i] = t.key
	}
	return keys
}

func baseURL(scheme, address string) string {
	if strings.Contains(address, ":") && !strings.HasPrefix(address, "[") {
		if _, _, err := net.SplitHostPort(address); err != nil {
			address = "[" + address + "]"
		}
	}
	return scheme + "://" + address
}

// run executes the checks of one test until one succeeds
func (d *Detector) run(ctx context.Context, t test, address string) bool {
	url := baseURL(t.scheme, address)
	for _, check := range t.fingerprint.Checks {
		if ctx.Err() != nil {
			return false
		}
		if check(ctx, d.client, url) {
			return true
		}
	}
	return false
}

// Detect probes address and returns the first vendor in precedence order
// whose test succeeds.
func (d *Detector) Detect(ctx context.Context, address string) Result {
	var result Result
	if d.opts.Parallel {
		result = d.detectParallel(ctx, address)
	} else {
		result = d.detectSequential(ctx, address)
	}

	entry := log.WithFields(log.Fields{"address": address, "tests": len(result.Order)})
	if result.Detected() {
		entry.WithField("vendor", result.Vendor).Info("Router type detected")
	} else {
		entry.Info("Router type could not be determined")
	}
	if d.opts.OnResult != nil {
		d.opts.OnResult(result)
	}
	return result
}

// DetectVendor implements adapter.VendorDetector.
func (d *Detector) DetectVendor(ctx context.Context, address string) (adapter.Vendor, bool) {
	r := d.Detect(ctx, address)
	return r.Vendor, r.Detected()
}

func (d *Detector) detectSequential(ctx context.Context, address string) Result {
	result := Result{Tests: make(map[string]bool, len(d.tests))}
	for _, t := range d.tests {
		ok := d.run(ctx, t, address)
		result.Tests[t.key] = ok
		result.Order = append(result.Order, t.key)
		log.WithFields(log.Fields{"address": address, "test": t.key, "matched": ok}).Debug("Probe finished")
		if ok {
			result.Vendor = t.fingerprint.Vendor
			break
		}
	}
	return result
}

// detectParallel starts every test at once. Results are resolved in
// precedence order: the winner is the first successful test all of whose
// predecessors have finished. Tests after the winner are cancelled and
// left out of the result.
func (d *Detector) detectParallel(ctx context.Context, address string) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		index int
		ok    bool
	}
	outcomes := make(chan outcome, len(d.tests))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range d.tests {
		g.Go(func() error {
			outcomes <- outcome{index: i, ok: d.run(gctx, t, address)}
			return nil
		})
	}

	done := make([]bool, len(d.tests))
	matched := make([]bool, len(d.tests))
	winner := -1
	next := 0
	for received := 0; received < len(d.tests) && winner < 0; received++ {
		o := <-outcomes
		done[o.index] = true
		matched[o.index] = o.ok
		for next < len(d.tests) && done[next] {
			if matched[next] {
				winner = next
				cancel()
				break
			}
			next++
		}
	}
	_ = g.Wait()

	result := Result{Tests: make(map[string]bool, len(d.tests))}
	last := len(d.tests) - 1
	if winner >= 0 {
		last = winner
		result.Vendor = d.tests[winner].fingerprint.Vendor
	}
	for i := 0; i <= last; i++ {
		result.Tests[d.tests[i].key] = matched[i]
		result.Order = append(result.Order, d.tests[i].key)
	}
	return result
}
