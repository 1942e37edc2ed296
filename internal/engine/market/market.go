// Package market implements the pooled-stake market state machine and its
// pricing engine. A Market is generic over its settlement asset; one
// marketplace instance exists per asset type and owns every market
// denominated in it.
//
// Every exported mutation is a single atomic transition: all preconditions
// are evaluated first and a failing check returns before any state is
// touched, mirroring the all-or-nothing call semantics of the host ledger.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/asset"
	"github.com/kamalbuilds/aptos-markets/internal/domain"
	"github.com/kamalbuilds/aptos-markets/internal/registry"
)

// Exposure and volume multiples applied to a market's initial liquidity
// at creation time.
const (
	BinaryExposureMultiple = 10
	EventExposureMultiple  = 20
	DailyVolumeMultiple    = 100

	MinOutcomes = 2
	MaxOutcomes = 10

	// BinaryResolutionWindow is how long past the betting close a binary
	// market may stay unresolved before the sweeper cancels it.
	BinaryResolutionWindow = 48 * time.Hour
)

// RiskGate is the admission interface the market calls before accepting
// any stake. The risk engine implements it; Check must be side-effect
// free, Apply is the post-commit bookkeeping step, and RegisterMarket
// feeds the global market counter.
type RiskGate interface {
	Check(user string, amount uint64) error
	Apply(ctx context.Context, user string, amount uint64, open bool) error
	RegisterMarket()
}

// deps bundles the non-generic collaborators shared by all markets of one
// marketplace. Stores and bus are optional write-behind surfaces; the
// in-memory state machine is authoritative.
type deps struct {
	gate    RiskGate
	reg     *registry.Registry
	cap     registry.WriteCap
	store   domain.MarketStore
	history domain.PriceHistoryStore
	bus     domain.SignalBus
	clock   func() time.Time
	logger  *slog.Logger

	asset         string
	minBet        uint64
	signalEnabled bool
}

// signalState is the latest external signal folded into binary pricing.
type signalState struct {
	sentimentBps  uint64
	confidenceBps uint64
	receivedAt    time.Time
}

// Market is one proposition's pooled-stake state machine. The type
// parameter binds the market to a single settlement asset at compile
// time; it carries no runtime state.
type Market[A asset.Asset] struct {
	mu sync.Mutex
	d  *deps

	id       string
	kind     domain.MarketKind
	title    string
	category string
	creator  string

	createdAt          time.Time
	startAt            time.Time
	endAt              time.Time
	resolutionDeadline time.Time
	governanceEnd      time.Time // event only

	status         domain.MarketStatus
	resolved       bool
	winningOutcome *int
	resolutionSrc  string
	resolvedAt     time.Time

	outcomes     []domain.OutcomeState
	totalVolume  uint64
	participants map[string]struct{}

	// Per-user accounting for payout and exposure release.
	stakes  map[string][]uint64 // net stake per outcome
	gross   map[string]uint64   // gross bet total (fees included)
	claimed map[string]bool

	maxExposure      uint64
	currentExposure  uint64
	riskScoreBps     uint64
	dailyVolumeLimit uint64
	dailyVolumeUsed  uint64
	dayStart         time.Time

	liquidity       uint64
	minLiquidity    uint64
	marketFeeBps    uint64
	creatorFeeBps   uint64
	accumulatedFees uint64
	providers       []domain.LiquidityProvider

	history []domain.PricePoint
	signal  *signalState
}

// newMarket builds a market in Pending with a uniform price split. All
// argument validation happens in the marketplace create entry points.
func newMarket[A asset.Asset](d *deps, id string, kind domain.MarketKind, p CreateParams, labels []string, now time.Time) *Market[A] {
	outcomes := make([]domain.OutcomeState, len(labels))
	prices := uniformPrices(len(labels))
	for i := range outcomes {
		outcomes[i] = domain.OutcomeState{Label: labels[i], PriceBps: prices[i]}
	}

	exposureMul := uint64(BinaryExposureMultiple)
	if kind == domain.MarketKindEvent {
		exposureMul = EventExposureMultiple
	}

	return &Market[A]{
		d:                d,
		id:               id,
		kind:             kind,
		title:            p.Title,
		category:         p.Category,
		creator:          p.Creator,
		createdAt:        now,
		startAt:          p.StartAt,
		endAt:            p.EndAt,
		status:           domain.MarketStatusPending,
		outcomes:         outcomes,
		participants:     make(map[string]struct{}),
		stakes:           make(map[string][]uint64),
		gross:            make(map[string]uint64),
		claimed:          make(map[string]bool),
		maxExposure:      p.InitialLiquidity * exposureMul,
		dailyVolumeLimit: p.InitialLiquidity * DailyVolumeMultiple,
		dayStart:         now,
		liquidity:        p.InitialLiquidity,
		minLiquidity:     p.InitialLiquidity,
		marketFeeBps:     p.MarketFeeBps,
		creatorFeeBps:    p.CreatorFeeBps,
		providers: []domain.LiquidityProvider{
			{Address: p.Creator, Amount: p.InitialLiquidity, AddedAt: now},
		},
	}
}

// ID returns the market identifier.
func (m *Market[A]) ID() string { return m.id }

// Kind returns the market shape (binary or event).
func (m *Market[A]) Kind() domain.MarketKind { return m.kind }

// Creator returns the creator address.
func (m *Market[A]) Creator() string { return m.creator }

// EndAt returns the betting close time.
func (m *Market[A]) EndAt() time.Time { return m.endAt }

// ResolutionDeadline returns the validator voting deadline for event
// markets, or the unresolved-cancel cutoff for binary markets.
func (m *Market[A]) ResolutionDeadline() time.Time { return m.resolutionDeadline }

// GovernanceEnd returns the end of the dispute window (event only).
func (m *Market[A]) GovernanceEnd() time.Time { return m.governanceEnd }

// OutcomeCount returns the number of outcomes.
func (m *Market[A]) OutcomeCount() int { return len(m.outcomes) }

// Start activates a pending market. Only the creator may start it, and
// only once the scheduled start time has passed.
func (m *Market[A]) Start(ctx context.Context, caller string) error {
	m.mu.Lock()

	if caller != m.creator {
		m.mu.Unlock()
		return fmt.Errorf("market %s: start by %s: %w", m.id, caller, domain.ErrUnauthorized)
	}
	if m.status != domain.MarketStatusPending {
		m.mu.Unlock()
		return fmt.Errorf("market %s: start from %s: %w", m.id, m.status, domain.ErrInvalidState)
	}
	now := m.d.clock()
	if now.Before(m.startAt) {
		m.mu.Unlock()
		return fmt.Errorf("market %s: start before start time: %w", m.id, domain.ErrInvalidState)
	}

	m.status = domain.MarketStatusActive
	rec := m.recordLocked()
	m.mu.Unlock()

	m.commit(ctx, rec, domain.InsightMarketStarted, nil)
	return nil
}

// PlaceBet stakes amount behind an outcome. Admission runs through the
// risk gate before any pool mutation; the whole call is atomic.
func (m *Market[A]) PlaceBet(ctx context.Context, bettor string, outcome int, amount uint64) (domain.BetReceipt, error) {
	m.mu.Lock()

	now := m.d.clock()
	if m.status != domain.MarketStatusActive {
		m.mu.Unlock()
		return domain.BetReceipt{}, fmt.Errorf("market %s: bet in %s: %w", m.id, m.status, domain.ErrInvalidState)
	}
	if now.After(m.endAt) {
		m.mu.Unlock()
		return domain.BetReceipt{}, fmt.Errorf("market %s: betting closed: %w", m.id, domain.ErrInvalidState)
	}
	if outcome < 0 || outcome >= len(m.outcomes) {
		m.mu.Unlock()
		return domain.BetReceipt{}, fmt.Errorf("market %s: outcome %d of %d: %w", m.id, outcome, len(m.outcomes), domain.ErrInvalidArgument)
	}
	if amount < m.d.minBet {
		m.mu.Unlock()
		return domain.BetReceipt{}, fmt.Errorf("market %s: bet %d below minimum %d: %w", m.id, amount, m.d.minBet, domain.ErrInvalidArgument)
	}

	// Risk admission before any mutation. A denial leaves the market
	// byte-for-byte unchanged.
	if err := m.d.gate.Check(bettor, amount); err != nil {
		m.mu.Unlock()
		return domain.BetReceipt{}, err
	}

	// Market-level exposure cap, enforced as a precondition.
	if m.currentExposure+amount > m.maxExposure {
		m.mu.Unlock()
		return domain.BetReceipt{}, fmt.Errorf("market %s: exposure %d would exceed cap %d: %w", m.id, m.currentExposure+amount, m.maxExposure, domain.ErrResourceExhausted)
	}

	// Daily volume window.
	daily := m.dailyVolumeUsed
	rolled := now.Sub(m.dayStart) >= domain.DailyWindowSecs*time.Second
	if rolled {
		daily = 0
	}
	if daily+amount > m.dailyVolumeLimit {
		m.mu.Unlock()
		return domain.BetReceipt{}, fmt.Errorf("market %s: daily volume %d would exceed limit %d: %w", m.id, daily+amount, m.dailyVolumeLimit, domain.ErrResourceExhausted)
	}

	// All preconditions hold; commit.
	if rolled {
		m.dayStart = now
	}
	fee := amount * (m.marketFeeBps + m.creatorFeeBps) / domain.BpsScale
	net := amount - fee

	m.outcomes[outcome].Pool += net
	m.totalVolume += amount
	m.currentExposure += amount
	m.riskScoreBps = m.currentExposure * domain.BpsScale / m.maxExposure
	m.dailyVolumeUsed = daily + amount
	m.accumulatedFees += fee
	m.participants[bettor] = struct{}{}

	if m.stakes[bettor] == nil {
		m.stakes[bettor] = make([]uint64, len(m.outcomes))
	}
	m.stakes[bettor][outcome] += net
	m.gross[bettor] += amount

	m.repriceLocked(now)
	m.appendHistoryLocked(now)

	receipt := domain.BetReceipt{
		MarketID:    m.id,
		Bettor:      bettor,
		Outcome:     outcome,
		Amount:      amount,
		Fee:         fee,
		NetStake:    net,
		PriceBps:    m.outcomes[outcome].PriceBps,
		TotalVolume: m.totalVolume,
		PlacedAt:    now,
	}
	rec := m.recordLocked()
	point := m.history[len(m.history)-1]
	m.mu.Unlock()

	// Post-commit bookkeeping and write-behind surfaces.
	if err := m.d.gate.Apply(ctx, bettor, amount, true); err != nil {
		m.d.logger.WarnContext(ctx, "risk apply failed", slog.String("market", m.id), slog.String("error", err.Error()))
	}
	if err := m.d.reg.RecordVolume(m.d.cap, m.d.asset, amount); err != nil {
		m.d.logger.WarnContext(ctx, "registry volume record failed", slog.String("market", m.id), slog.String("error", err.Error()))
	}
	if m.d.history != nil {
		if err := m.d.history.Append(ctx, m.id, point); err != nil {
			m.d.logger.WarnContext(ctx, "price history persist failed", slog.String("market", m.id), slog.String("error", err.Error()))
		}
	}
	m.commit(ctx, rec, domain.InsightBetPlaced, map[string]string{
		"bettor":  bettor,
		"outcome": m.outcomes[receipt.Outcome].Label,
		"amount":  fmt.Sprintf("%d", amount),
	})
	return receipt, nil
}

// ApplySignal folds an external sentiment signal into binary pricing.
// The overlay only activates when the reported confidence meets the
// threshold; otherwise the call records the signal and leaves prices
// pool-proportional. Event markets store per-outcome vectors via
// UpdatePredictions instead.
func (m *Market[A]) ApplySignal(ctx context.Context, sentimentBps, confidenceBps uint64) error {
	if sentimentBps > domain.BpsScale || confidenceBps > domain.BpsScale {
		return fmt.Errorf("market %s: signal out of range: %w", m.id, domain.ErrInvalidArgument)
	}

	m.mu.Lock()

	if !m.d.signalEnabled {
		m.mu.Unlock()
		return fmt.Errorf("market %s: signals disabled: %w", m.id, domain.ErrInvalidState)
	}
	if m.status != domain.MarketStatusActive {
		m.mu.Unlock()
		return fmt.Errorf("market %s: signal in %s: %w", m.id, m.status, domain.ErrInvalidState)
	}

	now := m.d.clock()
	m.signal = &signalState{sentimentBps: sentimentBps, confidenceBps: confidenceBps, receivedAt: now}
	if m.kind == domain.MarketKindBinary {
		m.repriceLocked(now)
		m.appendHistoryLocked(now)
	}
	rec := m.recordLocked()
	m.mu.Unlock()

	m.persist(ctx, rec)
	return nil
}

// UpdatePredictions stores per-outcome prediction and sentiment vectors
// on an event market. They are observational; event prices stay
// pool-proportional.
func (m *Market[A]) UpdatePredictions(ctx context.Context, predictions, sentiments []uint64) error {
	m.mu.Lock()

	if m.kind != domain.MarketKindEvent {
		m.mu.Unlock()
		return fmt.Errorf("market %s: predictions on binary market: %w", m.id, domain.ErrInvalidState)
	}
	if len(predictions) != len(m.outcomes) || len(sentiments) != len(m.outcomes) {
		m.mu.Unlock()
		return fmt.Errorf("market %s: prediction vector length: %w", m.id, domain.ErrInvalidArgument)
	}
	for i := range predictions {
		if predictions[i] > domain.BpsScale || sentiments[i] > domain.BpsScale {
			m.mu.Unlock()
			return fmt.Errorf("market %s: prediction out of range: %w", m.id, domain.ErrInvalidArgument)
		}
	}

	for i := range m.outcomes {
		m.outcomes[i].PredictionBps = predictions[i]
		m.outcomes[i].SentimentBps = sentiments[i]
	}
	rec := m.recordLocked()
	m.mu.Unlock()

	m.persist(ctx, rec)
	return nil
}

// Resolve finalizes a binary market. Only the creator may resolve, only
// after the betting window has closed, and only once.
func (m *Market[A]) Resolve(ctx context.Context, caller string, outcome int, source string) error {
	m.mu.Lock()

	if m.kind != domain.MarketKindBinary {
		m.mu.Unlock()
		return fmt.Errorf("market %s: creator resolution on event market: %w", m.id, domain.ErrUnauthorized)
	}
	if caller != m.creator {
		m.mu.Unlock()
		return fmt.Errorf("market %s: resolve by %s: %w", m.id, caller, domain.ErrUnauthorized)
	}
	if err := m.finalizeLocked(outcome, source); err != nil {
		m.mu.Unlock()
		return err
	}
	rec := m.recordLocked()
	m.mu.Unlock()

	m.commit(ctx, rec, domain.InsightMarketResolved, map[string]string{
		"outcome": m.outcomes[outcome].Label,
		"source":  source,
	})
	return nil
}

// finalizeLocked performs the shared resolution transition. Callers hold
// the lock.
func (m *Market[A]) finalizeLocked(outcome int, source string) error {
	if m.resolved || m.status == domain.MarketStatusResolved {
		return fmt.Errorf("market %s: already resolved: %w", m.id, domain.ErrInvalidState)
	}
	switch m.status {
	case domain.MarketStatusActive, domain.MarketStatusPaused, domain.MarketStatusDisputed:
	default:
		return fmt.Errorf("market %s: resolve from %s: %w", m.id, m.status, domain.ErrInvalidState)
	}
	now := m.d.clock()
	if !now.After(m.endAt) {
		return fmt.Errorf("market %s: resolve before end time: %w", m.id, domain.ErrInvalidState)
	}
	if outcome < 0 || outcome >= len(m.outcomes) {
		return fmt.Errorf("market %s: winning outcome %d: %w", m.id, outcome, domain.ErrInvalidArgument)
	}

	o := outcome
	m.resolved = true
	m.winningOutcome = &o
	m.resolutionSrc = source
	m.resolvedAt = now
	m.status = domain.MarketStatusResolved
	return nil
}

// Pause suspends trading. Creator only, Active only.
func (m *Market[A]) Pause(ctx context.Context, caller string) error {
	return m.flipStatus(ctx, caller, domain.MarketStatusActive, domain.MarketStatusPaused)
}

// Resume reactivates a paused market. Creator only.
func (m *Market[A]) Resume(ctx context.Context, caller string) error {
	return m.flipStatus(ctx, caller, domain.MarketStatusPaused, domain.MarketStatusActive)
}

func (m *Market[A]) flipStatus(ctx context.Context, caller string, from, to domain.MarketStatus) error {
	m.mu.Lock()

	if caller != m.creator {
		m.mu.Unlock()
		return fmt.Errorf("market %s: status change by %s: %w", m.id, caller, domain.ErrUnauthorized)
	}
	if m.status != from {
		m.mu.Unlock()
		return fmt.Errorf("market %s: %s -> %s from %s: %w", m.id, from, to, m.status, domain.ErrInvalidState)
	}
	m.status = to
	rec := m.recordLocked()
	m.mu.Unlock()

	m.persist(ctx, rec)
	return nil
}

// Cancel terminates a market that never traded: Pending, or Active with
// empty pools. Terminal.
func (m *Market[A]) Cancel(ctx context.Context, caller string) error {
	m.mu.Lock()

	if caller != m.creator {
		m.mu.Unlock()
		return fmt.Errorf("market %s: cancel by %s: %w", m.id, caller, domain.ErrUnauthorized)
	}
	switch {
	case m.status == domain.MarketStatusPending:
	case m.status == domain.MarketStatusActive && m.totalVolume == 0:
	default:
		m.mu.Unlock()
		return fmt.Errorf("market %s: cancel from %s with volume %d: %w", m.id, m.status, m.totalVolume, domain.ErrInvalidState)
	}
	m.status = domain.MarketStatusCancelled
	rec := m.recordLocked()
	m.mu.Unlock()

	m.commit(ctx, rec, domain.InsightMarketCancelled, nil)
	return nil
}

// CancelExpired terminates a binary market whose resolution deadline
// passed without a resolution. Unlike creator cancellation this applies
// to traded markets; stakes become refundable through Claim. The expiry
// sweeper is the only caller.
func (m *Market[A]) CancelExpired(ctx context.Context, now time.Time) error {
	m.mu.Lock()

	if m.kind != domain.MarketKindBinary {
		m.mu.Unlock()
		return fmt.Errorf("market %s: expiry cancel on event market: %w", m.id, domain.ErrInvalidState)
	}
	if m.resolutionDeadline.IsZero() || !now.After(m.resolutionDeadline) {
		m.mu.Unlock()
		return fmt.Errorf("market %s: resolution deadline not reached: %w", m.id, domain.ErrInvalidState)
	}
	switch m.status {
	case domain.MarketStatusPending, domain.MarketStatusActive, domain.MarketStatusPaused:
	default:
		m.mu.Unlock()
		return fmt.Errorf("market %s: expiry cancel from %s: %w", m.id, m.status, domain.ErrInvalidState)
	}

	m.status = domain.MarketStatusCancelled
	rec := m.recordLocked()
	m.mu.Unlock()

	m.commit(ctx, rec, domain.InsightMarketCancelled, map[string]string{"source": "expiry"})
	return nil
}

// Snapshot returns a full read-only copy of the market.
func (m *Market[A]) Snapshot() domain.MarketRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked()
}

// Prices returns the current per-outcome prices in bps.
func (m *Market[A]) Prices() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]uint64, len(m.outcomes))
	for i, o := range m.outcomes {
		out[i] = o.PriceBps
	}
	return out
}

// History returns a copy of the bounded price history.
func (m *Market[A]) History() []domain.PricePoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.PricePoint, len(m.history))
	copy(out, m.history)
	return out
}

// ---------------------------------------------------------------------
// internal
// ---------------------------------------------------------------------

// repriceLocked recomputes pool-proportional prices and, for binary
// markets with a fresh confident signal, applies the overlay.
func (m *Market[A]) repriceLocked(now time.Time) {
	pools := make([]uint64, len(m.outcomes))
	for i, o := range m.outcomes {
		pools[i] = o.Pool
	}
	prices := poolPrices(pools)

	if m.kind == domain.MarketKindBinary && m.signal != nil && m.d.signalEnabled {
		if now.Sub(m.signal.receivedAt) <= signalMaxAge {
			yes := overlayYes(prices[0], m.signal.sentimentBps, m.signal.confidenceBps)
			prices[0] = yes
			prices[1] = domain.BpsScale - yes
		}
	}

	for i := range m.outcomes {
		m.outcomes[i].PriceBps = prices[i]
	}
}

func (m *Market[A]) appendHistoryLocked(now time.Time) {
	prices := make([]uint64, len(m.outcomes))
	for i, o := range m.outcomes {
		prices[i] = o.PriceBps
	}
	m.history = append(m.history, domain.PricePoint{At: now, Prices: prices, Volume: m.totalVolume})
	if len(m.history) > priceHistoryCap {
		m.history = m.history[len(m.history)-priceHistoryCap:]
	}
}

func (m *Market[A]) recordLocked() domain.MarketRecord {
	var a A
	outcomes := make([]domain.OutcomeState, len(m.outcomes))
	copy(outcomes, m.outcomes)
	providers := make([]domain.LiquidityProvider, len(m.providers))
	copy(providers, m.providers)

	rec := domain.MarketRecord{
		ID:               m.id,
		Asset:            a.Symbol(),
		Kind:             m.kind,
		Title:            m.title,
		Category:         m.category,
		Creator:          m.creator,
		Status:           m.status,
		CreatedAt:        m.createdAt,
		StartAt:          m.startAt,
		EndAt:            m.endAt,
		Resolved:         m.resolved,
		ResolutionSrc:    m.resolutionSrc,
		Outcomes:         outcomes,
		TotalVolume:      m.totalVolume,
		Participants:     len(m.participants),
		MaxExposure:      m.maxExposure,
		CurrentExposure:  m.currentExposure,
		RiskScoreBps:     m.riskScoreBps,
		DailyVolumeLimit: m.dailyVolumeLimit,
		DailyVolumeUsed:  m.dailyVolumeUsed,
		Liquidity:        m.liquidity,
		MinLiquidity:     m.minLiquidity,
		MarketFeeBps:     m.marketFeeBps,
		CreatorFeeBps:    m.creatorFeeBps,
		AccumulatedFees:  m.accumulatedFees,
		Providers:        providers,
	}
	if !m.resolutionDeadline.IsZero() {
		rd := m.resolutionDeadline
		rec.ResolutionDeadline = &rd
	}
	if m.kind == domain.MarketKindEvent {
		ge := m.governanceEnd
		rec.GovernanceEnd = &ge
	}
	if m.winningOutcome != nil {
		o := *m.winningOutcome
		rec.WinningOutcome = &o
	}
	if !m.resolvedAt.IsZero() {
		at := m.resolvedAt
		rec.ResolvedAt = &at
	}
	return rec
}

// persist writes the snapshot to the market store, best effort.
func (m *Market[A]) persist(ctx context.Context, rec domain.MarketRecord) {
	if m.d.store == nil {
		return
	}
	if err := m.d.store.Upsert(ctx, rec); err != nil {
		m.d.logger.WarnContext(ctx, "market persist failed",
			slog.String("market", m.id),
			slog.String("error", err.Error()),
		)
	}
}

// commit persists the snapshot and publishes an insight record.
func (m *Market[A]) commit(ctx context.Context, rec domain.MarketRecord, kind domain.InsightKind, detail map[string]string) {
	m.persist(ctx, rec)
	publishInsight(ctx, m.d, kind, rec.Asset, m.id, detail)
}
