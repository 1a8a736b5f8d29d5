package adapter

import (
	"context"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/asaskevich/govalidator"
	log "github.com/sirupsen/logrus"

	"routerctl/internal/domain"
)

// Constructor builds an unconnected adapter.
type Constructor func(address string, creds domain.Credentials, opts Options) Router

// VendorDetector guesses the vendor of an unlabeled router.
type VendorDetector interface {
	// DetectVendor returns the first matching vendor, or false
	DetectVendor(ctx context.Context, address string) (Vendor, bool)
}

// TagAuto requests detection instead of naming a vendor.
const TagAuto = "auto"

// Registry maps vendor tags to adapter constructors. It holds no
// sessions; adapters it creates are not connected.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Vendor]Constructor
	aliases      map[string]Vendor
	detector     VendorDetector
	opts         Options
}

// NewRegistry creates a registry with every built-in adapter registered.
// detector may be nil, in which case "auto" always fails.
func NewRegistry(detector VendorDetector, opts Options) *Registry {
	r := &Registry{
		constructors: make(map[Vendor]Constructor),
		aliases:      make(map[string]Vendor),
		detector:     detector,
		opts:         opts,
	}
	r.Register(VendorUniFi, func(a string, c domain.Credentials, o Options) Router { return NewUniFi(a, c, o) }, "ubiquiti")
	r.Register(VendorASUS, func(a string, c domain.Credentials, o Options) Router { return NewASUS(a, c, o) })
	r.Register(VendorNetgear, func(a string, c domain.Credentials, o Options) Router { return NewNetgear(a, c, o) })
	r.Register(VendorPfSense, func(a string, c domain.Credentials, o Options) Router { return NewPfSense(a, c, o) })
	r.Register(VendorOpenWrt, func(a string, c domain.Credentials, o Options) Router { return NewOpenWrt(a, c, o) })
	return r
}

// Register adds or replaces the constructor for a vendor, plus any
// aliases for its tag.
func (r *Registry) Register(vendor Vendor, ctor Constructor, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.constructors[vendor] = ctor
	r.aliases[string(vendor)] = vendor
	for _, alias := range aliases {
		r.aliases[normalizeTag(alias)] = vendor
	}
}

// Vendors lists the registered vendors in tag order.
func (r *Registry) Vendors() []Vendor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vendors := make([]Vendor, 0, len(r.constructors))
	for v := range r.constructors {
		vendors = append(vendors, v)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })
	return vendors
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Resolve maps a tag to a vendor. Empty and "auto" run detection.
func (r *Registry) Resolve(ctx context.Context, tag, address string) (Vendor, error) {
	tag = normalizeTag(tag)
	if tag == "" || tag == TagAuto {
		if r.detector == nil {
			return "", domain.NewError(domain.KindDetectionFailed, "router type could not be determined")
		}
		vendor, ok := r.detector.DetectVendor(ctx, address)
		if !ok {
			return "", domain.NewError(domain.KindDetectionFailed, "router type could not be determined")
		}
		log.WithFields(log.Fields{"address": address, "vendor": vendor}).Info("Detected router type")
		tag = string(vendor)
	}

	r.mu.RLock()
	vendor, ok := r.aliases[tag]
	r.mu.RUnlock()
	if !ok {
		return "", domain.NewError(domain.KindUnknownVendor, "unsupported router type: %s", tag)
	}
	return vendor, nil
}

// Create resolves the tag and constructs an unconnected adapter.
func (r *Registry) Create(ctx context.Context, tag, address string, creds domain.Credentials) (Router, error) {
	address = strings.TrimSpace(address)
	if !validAddress(address) {
		return nil, domain.Precondition("ip", address, "invalid router address")
	}

	vendor, err := r.Resolve(ctx, tag, address)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	ctor := r.constructors[vendor]
	r.mu.RUnlock()
	return ctor(address, creds, r.opts), nil
}

// validAddress accepts a host name or IP, optionally with a port
func validAddress(address string) bool {
	if address == "" {
		return false
	}
	if host, port, err := net.SplitHostPort(address); err == nil {
		return govalidator.IsHost(host) && govalidator.IsPort(port)
	}
	return govalidator.IsHost(strings.Trim(address, "[]"))
}
