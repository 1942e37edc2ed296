package market

import (
	"context"
	"fmt"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// Resolved reports whether the market has reached a terminal resolution.
func (m *Market[A]) Resolved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolved
}

// FinalizeByGovernance resolves an event market with the outcome chosen
// by validator consensus. The governance resolver is the only caller.
func (m *Market[A]) FinalizeByGovernance(ctx context.Context, outcome int) error {
	m.mu.Lock()

	if m.kind != domain.MarketKindEvent {
		m.mu.Unlock()
		return fmt.Errorf("market %s: governance resolution on binary market: %w", m.id, domain.ErrInvalidState)
	}
	if err := m.finalizeLocked(outcome, "governance"); err != nil {
		m.mu.Unlock()
		return err
	}
	label := m.outcomes[outcome].Label
	rec := m.recordLocked()
	m.mu.Unlock()

	m.commit(ctx, rec, domain.InsightMarketResolved, map[string]string{
		"outcome": label,
		"source":  "governance",
	})
	return nil
}

// MarkDisputed moves an unresolved event market into Disputed once the
// governance resolver records the first dispute.
func (m *Market[A]) MarkDisputed(ctx context.Context) error {
	m.mu.Lock()

	if m.kind != domain.MarketKindEvent {
		m.mu.Unlock()
		return fmt.Errorf("market %s: dispute on binary market: %w", m.id, domain.ErrInvalidState)
	}
	switch m.status {
	case domain.MarketStatusActive, domain.MarketStatusPaused:
	default:
		m.mu.Unlock()
		return fmt.Errorf("market %s: dispute from %s: %w", m.id, m.status, domain.ErrInvalidState)
	}

	m.status = domain.MarketStatusDisputed
	rec := m.recordLocked()
	m.mu.Unlock()

	m.commit(ctx, rec, domain.InsightMarketDisputed, nil)
	return nil
}

// CancelByGovernance terminates an event market whose governance window
// closed without consensus. Unlike creator cancellation this applies to
// traded markets; stakes become refundable through Claim.
func (m *Market[A]) CancelByGovernance(ctx context.Context) error {
	m.mu.Lock()

	if m.kind != domain.MarketKindEvent {
		m.mu.Unlock()
		return fmt.Errorf("market %s: governance cancel on binary market: %w", m.id, domain.ErrInvalidState)
	}
	switch m.status {
	case domain.MarketStatusActive, domain.MarketStatusPaused, domain.MarketStatusDisputed:
	default:
		m.mu.Unlock()
		return fmt.Errorf("market %s: governance cancel from %s: %w", m.id, m.status, domain.ErrInvalidState)
	}

	m.status = domain.MarketStatusCancelled
	rec := m.recordLocked()
	m.mu.Unlock()

	m.commit(ctx, rec, domain.InsightMarketCancelled, map[string]string{"source": "governance"})
	return nil
}
