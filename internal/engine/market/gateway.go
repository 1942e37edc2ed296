package market

import (
	"context"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
	"github.com/kamalbuilds/aptos-markets/internal/governance"
)

// This file is the non-generic gateway to a marketplace's live markets.
// Marketplace is generic over its settlement asset, which keeps the asset
// type out of every interface that consumes one. The API layer works with
// plain records and by-id operations, so each method here resolves the
// market (or resolver) and delegates.

// OpenMarket creates and admits a binary market, returning its snapshot.
func (mp *Marketplace[A]) OpenMarket(ctx context.Context, p CreateParams) (domain.MarketRecord, error) {
	m, err := mp.CreateMarket(ctx, p)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	return m.Snapshot(), nil
}

// OpenEventMarket creates and admits a multi-outcome event market with its
// governance resolver, returning the market snapshot.
func (mp *Marketplace[A]) OpenEventMarket(ctx context.Context, p CreateParams, ev EventParams) (domain.MarketRecord, error) {
	m, _, err := mp.CreateEventMarket(ctx, p, ev)
	if err != nil {
		return domain.MarketRecord{}, err
	}
	return m.Snapshot(), nil
}

// StartMarket transitions a pending market to active.
func (mp *Marketplace[A]) StartMarket(ctx context.Context, id, caller string) error {
	m, err := mp.Market(id)
	if err != nil {
		return err
	}
	return m.Start(ctx, caller)
}

// PlaceBet places a bet on a market by id.
func (mp *Marketplace[A]) PlaceBet(ctx context.Context, id, bettor string, outcome int, amount uint64) (domain.BetReceipt, error) {
	m, err := mp.Market(id)
	if err != nil {
		return domain.BetReceipt{}, err
	}
	return m.PlaceBet(ctx, bettor, outcome, amount)
}

// ResolveMarket resolves a market by id with the given outcome.
func (mp *Marketplace[A]) ResolveMarket(ctx context.Context, id, caller string, outcome int, source string) error {
	m, err := mp.Market(id)
	if err != nil {
		return err
	}
	return m.Resolve(ctx, caller, outcome, source)
}

// PauseMarket pauses an active market.
func (mp *Marketplace[A]) PauseMarket(ctx context.Context, id, caller string) error {
	m, err := mp.Market(id)
	if err != nil {
		return err
	}
	return m.Pause(ctx, caller)
}

// ResumeMarket resumes a paused market.
func (mp *Marketplace[A]) ResumeMarket(ctx context.Context, id, caller string) error {
	m, err := mp.Market(id)
	if err != nil {
		return err
	}
	return m.Resume(ctx, caller)
}

// CancelMarket cancels a market and unwinds its exposure.
func (mp *Marketplace[A]) CancelMarket(ctx context.Context, id, caller string) error {
	m, err := mp.Market(id)
	if err != nil {
		return err
	}
	return m.Cancel(ctx, caller)
}

// AddMarketLiquidity adds liquidity to a market's pools.
func (mp *Marketplace[A]) AddMarketLiquidity(ctx context.Context, id, provider string, amount uint64) error {
	m, err := mp.Market(id)
	if err != nil {
		return err
	}
	return m.AddLiquidity(ctx, provider, amount)
}

// RemoveMarketLiquidity withdraws previously supplied liquidity.
func (mp *Marketplace[A]) RemoveMarketLiquidity(ctx context.Context, id, provider string, amount uint64) error {
	m, err := mp.Market(id)
	if err != nil {
		return err
	}
	return m.RemoveLiquidity(ctx, provider, amount)
}

// MarketPrices returns current per-outcome prices in basis points.
func (mp *Marketplace[A]) MarketPrices(id string) ([]uint64, error) {
	m, err := mp.Market(id)
	if err != nil {
		return nil, err
	}
	return m.Prices(), nil
}

// MarketHistory returns the in-memory price history of a market.
func (mp *Marketplace[A]) MarketHistory(id string) ([]domain.PricePoint, error) {
	m, err := mp.Market(id)
	if err != nil {
		return nil, err
	}
	return m.History(), nil
}

// MarketPayouts returns the payout table of a resolved market.
func (mp *Marketplace[A]) MarketPayouts(id string) ([]domain.Payout, error) {
	m, err := mp.Market(id)
	if err != nil {
		return nil, err
	}
	return m.Payouts()
}

// ClaimPayout claims the caller's payout on a resolved market.
func (mp *Marketplace[A]) ClaimPayout(ctx context.Context, id, claimant string) (domain.Payout, error) {
	m, err := mp.Market(id)
	if err != nil {
		return domain.Payout{}, err
	}
	return m.Claim(ctx, claimant)
}

// RegisterValidator adds a validator to an event market's resolver.
func (mp *Marketplace[A]) RegisterValidator(id, caller, validator string) error {
	r, err := mp.Resolver(id)
	if err != nil {
		return err
	}
	return r.RegisterValidator(caller, validator)
}

// CastVote records a validator's vote on an event market.
func (mp *Marketplace[A]) CastVote(ctx context.Context, id, validator string, outcome int) error {
	r, err := mp.Resolver(id)
	if err != nil {
		return err
	}
	return r.CastVote(ctx, validator, outcome)
}

// RaiseDispute records a validator's dispute on an event market.
func (mp *Marketplace[A]) RaiseDispute(ctx context.Context, id, validator string) error {
	r, err := mp.Resolver(id)
	if err != nil {
		return err
	}
	return r.RaiseDispute(ctx, validator)
}

// CloseGovernance closes the voting window and settles the market.
func (mp *Marketplace[A]) CloseGovernance(ctx context.Context, id string) error {
	r, err := mp.Resolver(id)
	if err != nil {
		return err
	}
	return r.CloseGovernance(ctx)
}

// GovernanceStatus returns the voting state of an event market.
func (mp *Marketplace[A]) GovernanceStatus(id string) (governance.Status, error) {
	r, err := mp.Resolver(id)
	if err != nil {
		return governance.Status{}, err
	}
	return r.Snapshot(), nil
}

// SweepExpired resolves or cancels markets whose deadlines have passed.
// Binary markets still unresolved past their resolution deadline get
// cancelled with stakes refundable through Claim; event markets past
// governance end are closed through their resolver. Returns the number
// of markets acted on.
func (mp *Marketplace[A]) SweepExpired(ctx context.Context, now time.Time) int {
	mp.mu.RLock()
	markets := make([]*Market[A], 0, len(mp.markets))
	for _, m := range mp.markets {
		markets = append(markets, m)
	}
	resolvers := make(map[string]*governance.Resolver, len(mp.resolvers))
	for id, r := range mp.resolvers {
		resolvers[id] = r
	}
	mp.mu.RUnlock()

	acted := 0
	for _, m := range markets {
		if m.Resolved() {
			continue
		}
		if r, ok := resolvers[m.ID()]; ok {
			if !m.GovernanceEnd().IsZero() && now.After(m.GovernanceEnd()) {
				if err := r.CloseGovernance(ctx); err == nil {
					acted++
				}
			}
			continue
		}
		deadline := m.ResolutionDeadline()
		if !deadline.IsZero() && now.After(deadline) {
			if err := m.CancelExpired(ctx, now); err == nil {
				acted++
			}
		}
	}
	return acted
}
