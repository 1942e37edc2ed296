// Package registry implements the global per-asset marketplace directory.
// Reads are public; writes (registering a marketplace, recording volume)
// require a WriteCap, which only the engine wiring can mint. This mirrors
// the capability gating of the on-ledger original, where only designated
// internal modules may mutate the directory.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// WriteCap authorizes mutation of the registry. The zero value is not
// valid; a usable cap comes only from New, which hands out exactly one.
type WriteCap struct {
	reg *Registry
}

func (c WriteCap) valid(r *Registry) bool { return c.reg == r }

// MarketplaceView is the read-only surface each marketplace exposes to
// observers through the registry. The concrete marketplaces are generic
// over their asset type; the view is not.
type MarketplaceView interface {
	Asset() string
	Name() string
	GetMarket(id string) (domain.MarketRecord, error)
	ListMarkets(status domain.MarketStatus) []domain.MarketRecord
}

// Entry is the directory row for one registered marketplace.
type Entry struct {
	Asset            string
	Name             string
	FeeRateBps       uint64
	OracleFeed       string
	DailyVolumeLimit uint64
	SignalEnabled    bool
	RegisteredAt     time.Time

	TotalVolume uint64
	MarketCount int

	View MarketplaceView
}

// Registry is the process-wide marketplace directory, constructed once at
// startup and passed to every call site that needs it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	clock   func() time.Time
}

// New creates an empty registry and mints its single write capability.
func New() (*Registry, WriteCap) {
	r := &Registry{
		entries: make(map[string]*Entry),
		clock:   time.Now,
	}
	return r, WriteCap{reg: r}
}

// SetClock overrides the registry clock. Intended for tests.
func (r *Registry) SetClock(clock func() time.Time) { r.clock = clock }

// Register adds a marketplace entry for an asset. A second registration
// for the same asset fails with ErrAlreadyExists.
func (r *Registry) Register(cap WriteCap, e Entry) error {
	if !cap.valid(r) {
		return domain.ErrUnauthorized
	}
	if e.Asset == "" || e.View == nil {
		return domain.ErrInvalidArgument
	}
	if e.FeeRateBps > domain.MaxFeeRateBps {
		return domain.ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.Asset]; ok {
		return domain.ErrAlreadyExists
	}
	e.RegisteredAt = r.clock()
	r.entries[e.Asset] = &e
	return nil
}

// RecordVolume accumulates settled volume against an asset's entry.
func (r *Registry) RecordVolume(cap WriteCap, asset string, amount uint64) error {
	if !cap.valid(r) {
		return domain.ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[asset]
	if !ok {
		return domain.ErrNotFound
	}
	e.TotalVolume += amount
	return nil
}

// RecordMarket increments the market counter for an asset's entry.
func (r *Registry) RecordMarket(cap WriteCap, asset string) error {
	if !cap.valid(r) {
		return domain.ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[asset]
	if !ok {
		return domain.ErrNotFound
	}
	e.MarketCount++
	return nil
}

// Lookup returns the directory entry for an asset.
func (r *Registry) Lookup(asset string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[asset]
	if !ok {
		return Entry{}, domain.ErrNotFound
	}
	return *e, nil
}

// View returns the marketplace view for an asset.
func (r *Registry) View(asset string) (MarketplaceView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[asset]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e.View, nil
}

// List returns all entries ordered by asset symbol.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}
