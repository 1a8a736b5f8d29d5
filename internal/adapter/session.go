package adapter

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"routerctl/internal/domain"
)

// session is the authenticated state of one adapter. A session is built
// whole by Connect and replaced whole on reconnect; its fields are never
// patched in place.
type session struct {
	// client carries cookies and default headers for the session
	client *resty.Client
	// baseURL is scheme://host[:port] without a trailing slash
	baseURL string
	// token is the vendor auth token (LuCI) or CSRF token (pfSense)
	token string
	// established is when Connect succeeded
	established time.Time
}

// close releases the transport
func (s *session) close() {
	if s == nil || s.client == nil {
		return
	}
	s.client.GetClient().CloseIdleConnections()
}

// base holds what every adapter shares: identity, credentials, options and
// the current session. It carries no vendor behavior.
type base struct {
	vendor  Vendor
	address string
	creds   domain.Credentials
	opts    Options
	sess    *session
}

func newBase(vendor Vendor, address string, creds domain.Credentials, opts Options) base {
	return base{
		vendor:  vendor,
		address: address,
		creds:   creds,
		opts:    opts.withDefaults(),
	}
}

// Vendor returns the adapter variant
func (b *base) Vendor() Vendor {
	return b.vendor
}

// Address returns the router address
func (b *base) Address() string {
	return b.address
}

// Connected reports whether a session exists
func (b *base) Connected() bool {
	return b.sess != nil
}

// requireSession returns the live session or NotConnected
func (b *base) requireSession() (*session, error) {
	if b.sess == nil {
		return nil, domain.NewError(domain.KindNotConnected, "not connected to %s router at %s", b.vendor, b.address)
	}
	return b.sess, nil
}

// replaceSession installs s, closing whatever was there before
func (b *base) replaceSession(s *session) {
	old := b.sess
	b.sess = s
	old.close()
	if s != nil {
		s.established = time.Now()
	}
}

// teardown clears the session and runs logout best-effort with a short
// deadline; logout errors are logged, never returned.
func (b *base) teardown(ctx context.Context, logout func(ctx context.Context, s *session) error) {
	s := b.sess
	b.sess = nil
	if s == nil {
		return
	}
	defer s.close()
	if logout == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	if err := logout(ctx, s); err != nil {
		log.WithError(err).
			WithFields(log.Fields{"vendor": b.vendor, "address": b.address}).
			Debug("Logout failed, session dropped anyway")
	}
}

// fail logs an operation failure once at the adapter boundary
func (b *base) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	log.WithError(err).
		WithFields(log.Fields{"vendor": b.vendor, "address": b.address, "op": op}).
		Warn("Router operation failed")
	return err
}
