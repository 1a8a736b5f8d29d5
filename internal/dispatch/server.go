// Package dispatch translates named tool calls with an argument bag into
// router operations and renders their outcome as one short text message.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"routerctl/internal/adapter"
	"routerctl/internal/config"
	"routerctl/internal/detect"
	"routerctl/internal/domain"
	"routerctl/internal/metrics"
	"routerctl/internal/session"
)

// Detector is what the dispatcher needs from vendor detection.
type Detector interface {
	adapter.VendorDetector
	Detect(ctx context.Context, address string) detect.Result
}

// Result is the outcome of one tool call.
type Result struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
}

// Server is the context object of one routerctl instance. It owns the
// connection cache, so two servers never share sessions.
type Server struct {
	cfgMu    sync.RWMutex
	cfg      *config.Config
	registry *adapter.Registry
	detector Detector
	cache    *session.Cache
	metrics  *metrics.Metrics
	now      func() time.Time
	observe  func(Event)

	tools   map[string]*Tool
	aliases map[string]string
}

type serverOptions struct {
	detector  Detector
	transport http.RoundTripper
	metrics   *metrics.Metrics
	now       func() time.Time
	observe   func(Event)
}

// Option customizes NewServer.
type Option func(*serverOptions)

// WithDetector replaces the HTTP fingerprint detector.
func WithDetector(d Detector) Option {
	return func(o *serverOptions) { o.detector = d }
}

// WithTransport routes adapter and probe HTTP traffic through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *serverOptions) { o.transport = rt }
}

// WithMetrics registers collectors in m instead of a fresh set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serverOptions) { o.metrics = m }
}

// WithClock replaces time.Now for backup file names and session ages.
func WithClock(now func() time.Time) Option {
	return func(o *serverOptions) { o.now = now }
}

// WithObserver calls fn after every tool call.
func WithObserver(fn func(Event)) Option {
	return func(o *serverOptions) { o.observe = fn }
}

// NewServer wires a registry, detector, connection cache and metrics
// around cfg.
func NewServer(cfg *config.Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := serverOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	m := o.metrics

	if o.detector == nil {
		o.detector = detect.New(detect.Options{
			Timeout:   cfg.Timeouts.Probe.Duration(),
			Parallel:  cfg.ParallelDetection(),
			Transport: o.transport,
			OnResult: func(r detect.Result) {
				m.ObserveDetection(string(r.Vendor))
			},
		})
	}

	s := &Server{
		cfg:      cfg,
		detector: o.detector,
		metrics:  m,
		now:      o.now,
		observe:  o.observe,
		registry: adapter.NewRegistry(o.detector, adapter.Options{
			Timeout:   cfg.Timeouts.Request.Duration(),
			UniFiSite: cfg.UniFi.Site,
			UniFiPort: cfg.UniFi.Port,
			SSHPort:   cfg.SSHPort,
			Transport: o.transport,
		}),
		cache: session.NewCache(m.SetActiveSessions),
	}
	s.registerTools()
	return s
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Reload swaps the configuration used for router defaults, credentials,
// auto-connect and backups. Timeouts and adapter ports are fixed when the
// server is built; changes to them are logged and take effect on restart.
// Open sessions are kept.
func (s *Server) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.cfgMu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.cfgMu.Unlock()

	if old.Timeouts != cfg.Timeouts || old.UniFi != cfg.UniFi || old.SSHPort != cfg.SSHPort ||
		old.ParallelDetection() != cfg.ParallelDetection() {
		log.Warn("Timeout, detector and adapter port changes apply after a restart")
	}
	log.WithField("router", cfg.Router.Address).Info("Configuration reloaded")
}

// Registry returns the adapter registry.
func (s *Server) Registry() *adapter.Registry { return s.registry }

// Metrics returns the server collectors.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Connections lists the live sessions.
func (s *Server) Connections() []session.Info { return s.cache.List() }

// Close disconnects every session and releases probe connections.
func (s *Server) Close(ctx context.Context) {
	s.cache.Close(ctx)
	if c, ok := s.detector.(interface{ Close() }); ok {
		c.Close()
	}
}

// Tools lists the catalog in name order. Aliases are not included.
func (s *Server) Tools() []Tool {
	tools := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, *t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Lookup finds a tool by name or alias.
func (s *Server) Lookup(name string) (*Tool, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if target, ok := s.aliases[name]; ok {
		name = target
	}
	t, ok := s.tools[name]
	return t, ok
}

// Call runs one tool. It never panics and never returns an error: every
// outcome, including unknown tools and panics inside adapters, is
// reported in the Result.
func (s *Server) Call(ctx context.Context, name string, args Args) (res Result) {
	tool, ok := s.Lookup(name)
	if !ok {
		return Result{Text: fmt.Sprintf("Error: unknown tool '%s'", name)}
	}
	if args == nil {
		args = Args{}
	}

	logger := log.WithFields(log.Fields{"tool": tool.Name, "ip": args.String("ip")})
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Errorf("Tool call panicked\n%s", debug.Stack())
			res = Result{Text: fmt.Sprintf("Failed to %s: internal error: %v", tool.Action, r)}
		}
		s.metrics.ObserveCall(tool.Name, res.Success)
		if s.observe != nil {
			address := args.String("ip")
			if address == "" {
				address = s.Config().Router.Address
			}
			s.observe(Event{
				Tool:    tool.Name,
				Address: address,
				Success: res.Success,
				Text:    res.Text,
				Time:    s.now(),
			})
		}
	}()

	if err := tool.checkRequired(args); err != nil {
		return failure(tool, "", err)
	}

	text, err := tool.run(ctx, s, args)
	if err != nil {
		logger.WithError(err).WithField("kind", domain.KindOf(err)).Warn("Tool call failed")
		return failure(tool, text, err)
	}
	logger.WithField("elapsed", s.now().Sub(start)).Debug("Tool call succeeded")
	return Result{Success: true, Text: text}
}

func failure(tool *Tool, detail string, err error) Result {
	text := fmt.Sprintf("Failed to %s: %s", tool.Action, err)
	if detail != "" {
		text += "\n" + detail
	}
	return Result{Text: text}
}

// address returns the router address of a call, defaulting to the
// configured router
func (s *Server) address(args Args) (string, error) {
	if ip := args.String("ip"); ip != "" {
		return ip, nil
	}
	if configured := s.Config().Router.Address; configured != "" {
		return configured, nil
	}
	return "", domain.Precondition("ip", "", "no router address given and none configured")
}

// credentials picks the login for address: explicit arguments first, then
// the configured router when the address matches it
func (s *Server) credentials(address string, args Args) domain.Credentials {
	var creds domain.Credentials
	if router := s.Config().Router; address == router.Address {
		creds = domain.Credentials{Username: router.Username, Password: router.Password}
	}
	if args.Has("username") {
		creds.Username = args.String("username")
	}
	if v, ok := args["password"].(string); ok && v != "" {
		creds.Password = v
	}
	if creds.Username == "" {
		creds.Username = "admin"
	}
	return creds
}

// connect creates an adapter for address and caches its session
func (s *Server) connect(ctx context.Context, address, tag string, creds domain.Credentials) (adapter.Router, error) {
	router, err := s.registry.Create(ctx, tag, address, creds)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Connect(ctx, router); err != nil {
		s.metrics.ObserveAdapterError(string(router.Vendor()), string(domain.KindOf(err)))
		return nil, err
	}
	return router, nil
}

// withRouter runs fn against the cached session for address, connecting
// to the configured router first when allowed
func (s *Server) withRouter(ctx context.Context, address string, fn func(ctx context.Context, r adapter.Router) error) error {
	if _, ok := s.cache.Get(address); !ok && s.canAutoConnect(address) {
		log.WithField("address", address).Info("Connecting to configured router")
		if _, err := s.connect(ctx, address, s.Config().Router.Type, s.credentials(address, nil)); err != nil {
			return err
		}
	}
	return s.cache.Do(ctx, address, func(ctx context.Context, r adapter.Router) error {
		err := fn(ctx, r)
		if err != nil && domain.KindOf(err) != domain.KindPreconditionViolation {
			s.metrics.ObserveAdapterError(string(r.Vendor()), string(domain.KindOf(err)))
		}
		return err
	})
}

func (s *Server) canAutoConnect(address string) bool {
	cfg := s.Config()
	return cfg.AutoConnectEnabled() && cfg.HasCredentials() && address == cfg.Router.Address
}
