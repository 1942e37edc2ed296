package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kamalbuilds/aptos-markets/internal/asset"
	"github.com/kamalbuilds/aptos-markets/internal/domain"
	"github.com/kamalbuilds/aptos-markets/internal/governance"
	"github.com/kamalbuilds/aptos-markets/internal/registry"
)

// Config carries the per-marketplace policy shared by all its markets.
type Config struct {
	Name             string
	FeeRateBps       uint64
	CreatorFeeBps    uint64
	MinBet           uint64
	OracleFeed       string
	DailyVolumeLimit uint64
	SignalEnabled    bool
}

// Stores groups the optional write-behind persistence surfaces.
type Stores struct {
	Markets domain.MarketStore
	History domain.PriceHistoryStore
}

// CreateParams is the caller-supplied description of a new market. Fee
// fields default to the marketplace configuration when zero.
type CreateParams struct {
	Title            string
	Category         string
	Creator          string
	StartAt          time.Time
	EndAt            time.Time
	InitialLiquidity uint64
	MarketFeeBps     uint64
	CreatorFeeBps    uint64
}

// EventParams extends CreateParams for multi-outcome event markets. A
// zero GovernanceEnd defaults to the resolution deadline plus the
// standard governance window, and a zero ConsensusBps selects the
// default threshold.
type EventParams struct {
	Outcomes           []string
	ResolutionDeadline time.Time
	GovernanceEnd      time.Time
	ConsensusBps       uint64
}

// Marketplace owns every market denominated in one settlement asset and
// is that asset's registry entry.
type Marketplace[A asset.Asset] struct {
	mu sync.RWMutex

	d         *deps
	cfg       Config
	markets   map[string]*Market[A]
	resolvers map[string]*governance.Resolver
}

var _ registry.MarketplaceView = (*Marketplace[asset.APT])(nil)
var _ governance.Finalizer = (*Market[asset.APT])(nil)

// NewMarketplace builds a marketplace and registers it in the directory.
// Registering a second marketplace for the same asset fails with
// ErrAlreadyExists.
func NewMarketplace[A asset.Asset](cfg Config, gate RiskGate, reg *registry.Registry, cap registry.WriteCap, stores Stores, bus domain.SignalBus, logger *slog.Logger) (*Marketplace[A], error) {
	var a A
	if gate == nil || reg == nil {
		return nil, fmt.Errorf("marketplace %s: missing collaborators: %w", a.Symbol(), domain.ErrInvalidArgument)
	}
	if cfg.FeeRateBps+cfg.CreatorFeeBps > domain.MaxFeeRateBps {
		return nil, fmt.Errorf("marketplace %s: fee %d over cap: %w", a.Symbol(), cfg.FeeRateBps+cfg.CreatorFeeBps, domain.ErrInvalidArgument)
	}
	if cfg.Name == "" {
		cfg.Name = a.Symbol() + " markets"
	}

	mp := &Marketplace[A]{
		cfg: cfg,
		d: &deps{
			gate:          gate,
			reg:           reg,
			cap:           cap,
			store:         stores.Markets,
			history:       stores.History,
			bus:           bus,
			clock:         time.Now,
			logger:        logger.With(slog.String("component", "market"), slog.String("asset", a.Symbol())),
			asset:         a.Symbol(),
			minBet:        cfg.MinBet,
			signalEnabled: cfg.SignalEnabled,
		},
		markets:   make(map[string]*Market[A]),
		resolvers: make(map[string]*governance.Resolver),
	}

	err := reg.Register(cap, registry.Entry{
		Asset:            a.Symbol(),
		Name:             cfg.Name,
		FeeRateBps:       cfg.FeeRateBps,
		OracleFeed:       cfg.OracleFeed,
		DailyVolumeLimit: cfg.DailyVolumeLimit,
		SignalEnabled:    cfg.SignalEnabled,
		View:             mp,
	})
	if err != nil {
		return nil, fmt.Errorf("marketplace %s: register: %w", a.Symbol(), err)
	}
	return mp, nil
}

// SetClock overrides the marketplace clock for all its markets. Intended
// for tests.
func (mp *Marketplace[A]) SetClock(clock func() time.Time) { mp.d.clock = clock }

// Asset returns the settlement asset symbol.
func (mp *Marketplace[A]) Asset() string { return mp.d.asset }

// Name returns the marketplace display name.
func (mp *Marketplace[A]) Name() string { return mp.cfg.Name }

// OracleFeed returns the oracle symbol this marketplace prices against.
func (mp *Marketplace[A]) OracleFeed() string { return mp.cfg.OracleFeed }

// BroadcastSignal applies an external sentiment signal to every active
// binary market. It returns the number of markets that accepted the
// signal; markets in a non-active state are skipped.
func (mp *Marketplace[A]) BroadcastSignal(ctx context.Context, sentimentBps, confidenceBps uint64) int {
	mp.mu.RLock()
	markets := make([]*Market[A], 0, len(mp.markets))
	for _, m := range mp.markets {
		markets = append(markets, m)
	}
	mp.mu.RUnlock()

	applied := 0
	for _, m := range markets {
		if err := m.ApplySignal(ctx, sentimentBps, confidenceBps); err != nil {
			continue
		}
		applied++
	}
	return applied
}

// CreateMarket opens a new binary Yes/No market in Pending.
func (mp *Marketplace[A]) CreateMarket(ctx context.Context, p CreateParams) (*Market[A], error) {
	now := mp.d.clock()
	if err := mp.validateCreate(p, now); err != nil {
		return nil, err
	}
	mp.applyFeeDefaults(&p)

	m := newMarket[A](mp.d, uuid.NewString(), domain.MarketKindBinary, p, []string{"Yes", "No"}, now)
	m.resolutionDeadline = p.EndAt.Add(BinaryResolutionWindow)
	mp.admit(ctx, m)
	return m, nil
}

// CreateEventMarket opens a multi-outcome market in Pending together
// with its governance resolver.
func (mp *Marketplace[A]) CreateEventMarket(ctx context.Context, p CreateParams, ev EventParams) (*Market[A], *governance.Resolver, error) {
	now := mp.d.clock()
	if err := mp.validateCreate(p, now); err != nil {
		return nil, nil, err
	}
	if len(ev.Outcomes) < MinOutcomes || len(ev.Outcomes) > MaxOutcomes {
		return nil, nil, fmt.Errorf("marketplace %s: %d outcomes: %w", mp.d.asset, len(ev.Outcomes), domain.ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(ev.Outcomes))
	for _, label := range ev.Outcomes {
		if label == "" {
			return nil, nil, fmt.Errorf("marketplace %s: empty outcome label: %w", mp.d.asset, domain.ErrInvalidArgument)
		}
		if _, dup := seen[label]; dup {
			return nil, nil, fmt.Errorf("marketplace %s: duplicate outcome %q: %w", mp.d.asset, label, domain.ErrInvalidArgument)
		}
		seen[label] = struct{}{}
	}
	if !ev.ResolutionDeadline.After(p.EndAt) {
		return nil, nil, fmt.Errorf("marketplace %s: resolution deadline before end: %w", mp.d.asset, domain.ErrInvalidArgument)
	}
	if ev.GovernanceEnd.IsZero() {
		ev.GovernanceEnd = ev.ResolutionDeadline.Add(governance.DefaultGovernanceWindow)
	}
	if !ev.GovernanceEnd.After(ev.ResolutionDeadline) {
		return nil, nil, fmt.Errorf("marketplace %s: governance end before deadline: %w", mp.d.asset, domain.ErrInvalidArgument)
	}
	mp.applyFeeDefaults(&p)

	labels := make([]string, len(ev.Outcomes))
	copy(labels, ev.Outcomes)
	m := newMarket[A](mp.d, uuid.NewString(), domain.MarketKindEvent, p, labels, now)
	m.resolutionDeadline = ev.ResolutionDeadline
	m.governanceEnd = ev.GovernanceEnd

	res := governance.NewResolver(m, ev.ConsensusBps, mp.d.logger)
	res.SetClock(mp.d.clock)

	mp.mu.Lock()
	mp.resolvers[m.id] = res
	mp.mu.Unlock()

	mp.admit(ctx, m)
	return m, res, nil
}

// Market returns the live market engine for an id.
func (mp *Marketplace[A]) Market(id string) (*Market[A], error) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	m, ok := mp.markets[id]
	if !ok {
		return nil, fmt.Errorf("marketplace %s: market %s: %w", mp.d.asset, id, domain.ErrNotFound)
	}
	return m, nil
}

// Resolver returns the governance resolver for an event market.
func (mp *Marketplace[A]) Resolver(id string) (*governance.Resolver, error) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	res, ok := mp.resolvers[id]
	if !ok {
		return nil, fmt.Errorf("marketplace %s: resolver %s: %w", mp.d.asset, id, domain.ErrNotFound)
	}
	return res, nil
}

// GetMarket returns a snapshot of one market.
func (mp *Marketplace[A]) GetMarket(id string) (domain.MarketRecord, error) {
	m, err := mp.Market(id)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	return m.Snapshot(), nil
}

// ListMarkets returns snapshots ordered by creation time, optionally
// filtered by status. An empty status matches everything.
func (mp *Marketplace[A]) ListMarkets(status domain.MarketStatus) []domain.MarketRecord {
	mp.mu.RLock()
	markets := make([]*Market[A], 0, len(mp.markets))
	for _, m := range mp.markets {
		markets = append(markets, m)
	}
	mp.mu.RUnlock()

	out := make([]domain.MarketRecord, 0, len(markets))
	for _, m := range markets {
		rec := m.Snapshot()
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (mp *Marketplace[A]) validateCreate(p CreateParams, now time.Time) error {
	switch {
	case p.Title == "":
		return fmt.Errorf("marketplace %s: empty title: %w", mp.d.asset, domain.ErrInvalidArgument)
	case p.Creator == "":
		return fmt.Errorf("marketplace %s: empty creator: %w", mp.d.asset, domain.ErrInvalidArgument)
	case !p.StartAt.After(now):
		return fmt.Errorf("marketplace %s: start not in the future: %w", mp.d.asset, domain.ErrInvalidArgument)
	case !p.EndAt.After(p.StartAt):
		return fmt.Errorf("marketplace %s: end before start: %w", mp.d.asset, domain.ErrInvalidArgument)
	case p.InitialLiquidity == 0 || p.InitialLiquidity < mp.cfg.MinBet:
		return fmt.Errorf("marketplace %s: initial liquidity %d below minimum: %w", mp.d.asset, p.InitialLiquidity, domain.ErrInvalidArgument)
	}
	if p.MarketFeeBps+p.CreatorFeeBps > domain.MaxFeeRateBps {
		return fmt.Errorf("marketplace %s: fee %d over cap: %w", mp.d.asset, p.MarketFeeBps+p.CreatorFeeBps, domain.ErrInvalidArgument)
	}
	return nil
}

func (mp *Marketplace[A]) applyFeeDefaults(p *CreateParams) {
	if p.MarketFeeBps == 0 {
		p.MarketFeeBps = mp.cfg.FeeRateBps
	}
	if p.CreatorFeeBps == 0 {
		p.CreatorFeeBps = mp.cfg.CreatorFeeBps
	}
}

// admit indexes a freshly built market and runs post-create bookkeeping.
func (mp *Marketplace[A]) admit(ctx context.Context, m *Market[A]) {
	mp.mu.Lock()
	mp.markets[m.id] = m
	mp.mu.Unlock()

	mp.d.gate.RegisterMarket()
	if err := mp.d.reg.RecordMarket(mp.d.cap, mp.d.asset); err != nil {
		mp.d.logger.WarnContext(ctx, "registry market record failed",
			slog.String("market", m.id),
			slog.String("error", err.Error()),
		)
	}
	m.commit(ctx, m.Snapshot(), domain.InsightMarketCreated, map[string]string{
		"title": m.title,
		"kind":  string(m.kind),
	})
}

// publishInsight emits one record to the ephemeral channel and the
// per-asset durable stream, best effort.
func publishInsight(ctx context.Context, d *deps, kind domain.InsightKind, assetSym, marketID string, detail map[string]string) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Insight{
		ID:        uuid.NewString(),
		Kind:      kind,
		Asset:     assetSym,
		MarketID:  marketID,
		Detail:    detail,
		CreatedAt: d.clock(),
	})
	if err != nil {
		d.logger.WarnContext(ctx, "insight marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := d.bus.Publish(ctx, "insights", payload); err != nil {
		d.logger.WarnContext(ctx, "insight publish failed", slog.String("error", err.Error()))
	}
	if err := d.bus.StreamAppend(ctx, "insights:"+assetSym, payload); err != nil {
		d.logger.WarnContext(ctx, "insight stream append failed", slog.String("error", err.Error()))
	}
}
