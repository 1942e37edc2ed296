package market

import (
	"context"
	"fmt"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// AddLiquidity contributes backing liquidity to the market pool.
func (m *Market[A]) AddLiquidity(ctx context.Context, provider string, amount uint64) error {
	m.mu.Lock()

	if amount == 0 {
		m.mu.Unlock()
		return fmt.Errorf("market %s: zero liquidity add: %w", m.id, domain.ErrInvalidArgument)
	}
	switch m.status {
	case domain.MarketStatusPending, domain.MarketStatusActive, domain.MarketStatusPaused:
	default:
		m.mu.Unlock()
		return fmt.Errorf("market %s: add liquidity in %s: %w", m.id, m.status, domain.ErrInvalidState)
	}

	m.liquidity += amount
	now := m.d.clock()
	found := false
	for i := range m.providers {
		if m.providers[i].Address == provider {
			m.providers[i].Amount += amount
			found = true
			break
		}
	}
	if !found {
		m.providers = append(m.providers, domain.LiquidityProvider{Address: provider, Amount: amount, AddedAt: now})
	}
	rec := m.recordLocked()
	m.mu.Unlock()

	m.persist(ctx, rec)
	return nil
}

// RemoveLiquidity withdraws part of a provider's contribution. While the
// market is live the pool may not drop below its minimum floor; after
// resolution or cancellation the floor no longer applies.
func (m *Market[A]) RemoveLiquidity(ctx context.Context, provider string, amount uint64) error {
	m.mu.Lock()

	if amount == 0 {
		m.mu.Unlock()
		return fmt.Errorf("market %s: zero liquidity remove: %w", m.id, domain.ErrInvalidArgument)
	}

	idx := -1
	for i := range m.providers {
		if m.providers[i].Address == provider {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("market %s: provider %s: %w", m.id, provider, domain.ErrNotFound)
	}
	if amount > m.providers[idx].Amount {
		m.mu.Unlock()
		return fmt.Errorf("market %s: remove %d exceeds contribution %d: %w", m.id, amount, m.providers[idx].Amount, domain.ErrResourceExhausted)
	}

	live := m.status != domain.MarketStatusResolved && m.status != domain.MarketStatusCancelled
	if live && m.liquidity-amount < m.minLiquidity {
		m.mu.Unlock()
		return fmt.Errorf("market %s: remove would breach liquidity floor %d: %w", m.id, m.minLiquidity, domain.ErrResourceExhausted)
	}

	m.liquidity -= amount
	m.providers[idx].Amount -= amount
	rec := m.recordLocked()
	m.mu.Unlock()

	m.persist(ctx, rec)
	return nil
}
