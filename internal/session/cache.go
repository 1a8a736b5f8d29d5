// Package session holds the live router sessions of one server instance,
// at most one per router address.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"routerctl/internal/adapter"
	"routerctl/internal/domain"
)

// Info describes a cached session.
type Info struct {
	Address     string         `json:"address"`
	Vendor      adapter.Vendor `json:"vendor"`
	ConnectedAt time.Time      `json:"connected_at"`
}

// slot owns the session for one address. Its mutex serializes every
// remote call made through the session.
type slot struct {
	mu     sync.Mutex
	router adapter.Router
}

// Cache maps router addresses to connected adapters. Operations on
// different addresses never wait for each other; operations on the same
// address run one at a time.
type Cache struct {
	// mu guards slots and live, never a remote call
	mu    sync.Mutex
	slots map[string]*slot
	live  map[string]Info

	onChange func(active int)
}

// NewCache creates an empty cache. onChange, if not nil, is called with
// the number of live sessions after every change.
func NewCache(onChange func(active int)) *Cache {
	return &Cache{
		slots:    make(map[string]*slot),
		live:     make(map[string]Info),
		onChange: onChange,
	}
}

// slotFor returns the slot for address, creating it when asked
func (c *Cache) slotFor(address string, create bool) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[address]
	if !ok && create {
		s = &slot{}
		c.slots[address] = s
	}
	return s
}

// setLive records or clears the live entry for address
func (c *Cache) setLive(address string, info *Info) {
	c.mu.Lock()
	if info == nil {
		delete(c.live, address)
	} else {
		c.live[address] = *info
	}
	active := len(c.live)
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(active)
	}
}

// Connect connects router and caches it under its address. A session
// already cached for the address is disconnected and replaced once the
// new one is established; when Connect fails the old session stays.
func (c *Cache) Connect(ctx context.Context, router adapter.Router) error {
	address := router.Address()
	s := c.slotFor(address, true)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := router.Connect(ctx); err != nil {
		return err
	}

	if old := s.router; old != nil && old != router {
		log.WithFields(log.Fields{"address": address, "vendor": old.Vendor()}).Info("Replacing cached router session")
		old.Disconnect(ctx)
	}
	s.router = router
	c.setLive(address, &Info{Address: address, Vendor: router.Vendor(), ConnectedAt: time.Now()})
	log.WithFields(log.Fields{"address": address, "vendor": router.Vendor()}).Info("Router session cached")
	return nil
}

// Do runs fn with the cached router for address while holding the
// address's lock. It fails with NotConnected when nothing is cached.
func (c *Cache) Do(ctx context.Context, address string, fn func(ctx context.Context, router adapter.Router) error) error {
	s := c.slotFor(address, false)
	if s == nil {
		return notConnected(address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.router == nil {
		return notConnected(address)
	}
	return fn(ctx, s.router)
}

// Get returns the cached router for address. Calls on the returned router
// bypass the per-address lock; use Do for remote operations.
func (c *Cache) Get(address string) (adapter.Router, bool) {
	s := c.slotFor(address, false)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router, s.router != nil
}

// Disconnect tears down and forgets the session for address. It reports
// whether a session existed.
func (c *Cache) Disconnect(ctx context.Context, address string) bool {
	s := c.slotFor(address, false)
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	router := s.router
	if router == nil {
		return false
	}
	router.Disconnect(ctx)
	s.router = nil
	c.setLive(address, nil)
	log.WithFields(log.Fields{"address": address, "vendor": router.Vendor()}).Info("Router session closed")
	return true
}

// List describes every live session, ordered by address.
func (c *Cache) List() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]Info, 0, len(c.live))
	for _, info := range c.live {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// Close disconnects every cached session.
func (c *Cache) Close(ctx context.Context) {
	c.mu.Lock()
	addresses := make([]string, 0, len(c.slots))
	for addr := range c.slots {
		addresses = append(addresses, addr)
	}
	c.mu.Unlock()

	for _, addr := range addresses {
		c.Disconnect(ctx, addr)
	}
}

func notConnected(address string) error {
	return domain.NewError(domain.KindNotConnected, "no router connected at %s", address)
}
