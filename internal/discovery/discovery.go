// Package discovery finds router candidates on a local network. Hosts
// are found with an nmap port sweep when the binary is installed, or a
// TCP connect sweep otherwise, and every host with a web port open is
// handed to the vendor detector.
package discovery

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"routerctl/internal/adapter"
	"routerctl/internal/detect"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultConcurrency = 32
)

var defaultPorts = []int{80, 443}

// Detector identifies the vendor behind an address
type Detector interface {
	Detect(ctx context.Context, address string) detect.Result
}

// Host is one network host that answered on a web port
type Host struct {
	IP         string         `json:"ip"`
	Hostname   string         `json:"hostname,omitempty"`
	MACAddress string         `json:"mac_address,omitempty"`
	OpenPorts  []int          `json:"open_ports"`
	Vendor     adapter.Vendor `json:"vendor,omitempty"`
}

// Address is what the detector and adapters should dial for this host.
// Standard web ports need no suffix.
func (h Host) Address() string {
	for _, p := range h.OpenPorts {
		if p == 80 || p == 443 {
			return h.IP
		}
	}
	if len(h.OpenPorts) == 0 {
		return h.IP
	}
	return net.JoinHostPort(h.IP, strconv.Itoa(h.OpenPorts[0]))
}

// Sweeper scans an address range for routers
type Sweeper struct {
	detector    Detector
	ports       []int
	timeout     time.Duration
	concurrency int
	useNmap     *bool
}

// NewSweeper creates a Sweeper. A nil detector only lists hosts.
func NewSweeper(detector Detector, opts ...Option) *Sweeper {
	s := &Sweeper{
		detector:    detector,
		ports:       defaultPorts,
		timeout:     defaultTimeout,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover sweeps cidr (or a single IPv4 address) and returns the hosts
// with an open web port ordered by address, each with its detected vendor
func (s *Sweeper) Discover(ctx context.Context, cidr string) ([]Host, error) {
	ips, err := expandCIDR(cidr)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{"cidr": cidr, "hosts": len(ips)})
	var hosts []Host
	if s.nmapEnabled(ctx) {
		logger.Info("Sweeping with nmap")
		hosts, err = nmapSweep(ctx, cidr, s.ports)
		if err != nil {
			logger.WithError(err).Warn("nmap sweep failed, falling back to TCP")
			hosts = tcpSweep(ctx, ips, s.ports, s.timeout, s.concurrency)
		}
	} else {
		logger.Info("Sweeping with TCP connect probes")
		hosts = tcpSweep(ctx, ips, s.ports, s.timeout, s.concurrency)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortHosts(hosts)
	if s.detector != nil {
		if err := s.detectAll(ctx, hosts); err != nil {
			return nil, err
		}
	}

	logger.WithField("found", len(hosts)).Info("Sweep complete")
	return hosts, nil
}

func (s *Sweeper) nmapEnabled(ctx context.Context) bool {
	if s.useNmap != nil {
		return *s.useNmap
	}
	return nmapAvailable(ctx)
}

// detectAll fills in Vendor for every host with bounded concurrency
func (s *Sweeper) detectAll(ctx context.Context, hosts []Host) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range hosts {
		g.Go(func() error {
			result := s.detector.Detect(gctx, hosts[i].Address())
			hosts[i].Vendor = result.Vendor
			log.WithFields(log.Fields{
				"address": hosts[i].Address(),
				"vendor":  result.Vendor,
			}).Debug("Detected host")
			return gctx.Err()
		})
	}
	return g.Wait()
}

// sortHosts orders hosts by numeric IP
func sortHosts(hosts []Host) {
	slices.SortFunc(hosts, func(a, b Host) int {
		ia, errA := netip.ParseAddr(a.IP)
		ib, errB := netip.ParseAddr(b.IP)
		if errA != nil || errB != nil {
			if a.IP < b.IP {
				return -1
			}
			if a.IP > b.IP {
				return 1
			}
			return 0
		}
		return ia.Compare(ib)
	})
}
