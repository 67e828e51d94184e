// Package router selects a backend database from the crawl or backlink
// pool in round-robin order, skipping any backend whose cached quota usage
// fails the router's selection limits or is classified Unusable (C3).
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TheBoringRats/ratcrowler/internal/config"
	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/internal/quota"
)

// ErrNoAvailableBackend is returned when every backend in a pool is over
// its quota limits or the pool is empty.
var ErrNoAvailableBackend = errors.New("router: no available backend")

// cycle is a single round-robin rotation over one pool, grounded on
// pkg/proxy.Pool's index+mutex Next() shape.
type cycle struct {
	mu      sync.Mutex
	dbs     []model.BackendDatabase
	current int
}

func newCycle(dbs []model.BackendDatabase) *cycle {
	return &cycle{dbs: dbs}
}

// next walks the pool starting at the current index, returning the first
// backend for which ok(db) is true, and advancing the index past it. It
// returns ErrNoAvailableBackend if the whole pool is unusable.
func (c *cycle) next(ok func(model.BackendDatabase) bool) (model.BackendDatabase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.dbs) == 0 {
		return model.BackendDatabase{}, ErrNoAvailableBackend
	}

	start := c.current
	for {
		db := c.dbs[c.current]
		c.current = (c.current + 1) % len(c.dbs)

		if ok(db) {
			return db, nil
		}
		if c.current == start {
			return model.BackendDatabase{}, ErrNoAvailableBackend
		}
	}
}

func (c *cycle) byName(name string) (model.BackendDatabase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, db := range c.dbs {
		if db.Name == name {
			return db, true
		}
	}
	return model.BackendDatabase{}, false
}

// Router picks a backend for a given pool kind, consulting the quota
// monitor to skip backends that are over their write/storage limits.
type Router struct {
	crawl    *cycle
	backlink *cycle
	monitor  *quota.Monitor
}

// New builds a Router from a loaded config.Pools and a quota monitor. The
// monitor may be nil, in which case quota checks are skipped (useful in
// tests and for backends with no usage API configured).
func New(pools config.Pools, monitor *quota.Monitor) *Router {
	return &Router{
		crawl:    newCycle(pools.Crawl),
		backlink: newCycle(pools.Backlink),
		monitor:  monitor,
	}
}

func (r *Router) cycleFor(kind model.BackendKind) (*cycle, error) {
	switch kind {
	case model.KindCrawl:
		return r.crawl, nil
	case model.KindBacklink:
		return r.backlink, nil
	default:
		return nil, fmt.Errorf("router: unknown backend kind %q", kind)
	}
}

// Choose returns the next usable backend in the given pool's round-robin
// rotation, skipping any whose last-known usage fails the router's quota
// limits or is classified quota.Unusable.
func (r *Router) Choose(ctx context.Context, kind model.BackendKind) (model.BackendDatabase, error) {
	c, err := r.cycleFor(kind)
	if err != nil {
		return model.BackendDatabase{}, err
	}

	return c.next(func(db model.BackendDatabase) bool {
		if r.monitor == nil {
			return true
		}
		usage, err := r.monitor.Usage(ctx, db, false)
		if err != nil {
			// Unknown usage is treated as usable; the write itself may
			// still fail and get recorded as a CrawlError.
			return true
		}
		return quota.PassesRouterLimits(usage) && quota.Classify(usage) != quota.Unusable
	})
}

// SessionFor returns the specific named backend from the given pool,
// bypassing round-robin selection and quota filtering. Used when resuming
// a session pinned to a particular database.
func (r *Router) SessionFor(name string, kind model.BackendKind) (model.BackendDatabase, error) {
	c, err := r.cycleFor(kind)
	if err != nil {
		return model.BackendDatabase{}, err
	}
	db, ok := c.byName(name)
	if !ok {
		return model.BackendDatabase{}, fmt.Errorf("router: backend %q not found in %s pool", name, kind)
	}
	return db, nil
}
