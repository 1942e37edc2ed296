package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// Payouts computes every participant's claim on a resolved market:
// winning net stake returned plus a pro-rata share of the losing pools.
// Fees were removed at stake time, so the split distributes the full
// losing pools.
func (m *Market[A]) Payouts() ([]domain.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.resolved || m.winningOutcome == nil {
		return nil, fmt.Errorf("market %s: payouts before resolution: %w", m.id, domain.ErrInvalidState)
	}

	win := *m.winningOutcome
	winPool := m.outcomes[win].Pool
	var losing uint64
	for i, o := range m.outcomes {
		if i != win {
			losing += o.Pool
		}
	}

	var out []domain.Payout
	for addr, perOutcome := range m.stakes {
		stake := perOutcome[win]
		if stake == 0 {
			continue
		}
		var winnings uint64
		if winPool > 0 {
			winnings = losing * stake / winPool
		}
		out = append(out, domain.Payout{
			MarketID: m.id,
			Address:  addr,
			Stake:    stake,
			Winnings: winnings,
			Total:    stake + winnings,
		})
	}
	return out, nil
}

// Claim settles one participant's payout and releases their exposure. A
// participant claims at most once; losers have nothing to claim. On a
// cancelled market the claim refunds the participant's net stakes
// instead.
func (m *Market[A]) Claim(ctx context.Context, claimant string) (domain.Payout, error) {
	m.mu.Lock()

	cancelled := m.status == domain.MarketStatusCancelled
	if !cancelled && (!m.resolved || m.winningOutcome == nil) {
		m.mu.Unlock()
		return domain.Payout{}, fmt.Errorf("market %s: claim before resolution: %w", m.id, domain.ErrInvalidState)
	}
	if m.claimed[claimant] {
		m.mu.Unlock()
		return domain.Payout{}, fmt.Errorf("market %s: %s already claimed: %w", m.id, claimant, domain.ErrInvalidState)
	}
	perOutcome, ok := m.stakes[claimant]
	if !ok {
		m.mu.Unlock()
		return domain.Payout{}, fmt.Errorf("market %s: %s has no stake: %w", m.id, claimant, domain.ErrNotFound)
	}

	var stake, winnings uint64
	if cancelled {
		for _, s := range perOutcome {
			stake += s
		}
		if stake == 0 {
			m.mu.Unlock()
			return domain.Payout{}, fmt.Errorf("market %s: %s holds no stake: %w", m.id, claimant, domain.ErrNotFound)
		}
	} else {
		win := *m.winningOutcome
		stake = perOutcome[win]
		if stake == 0 {
			m.mu.Unlock()
			return domain.Payout{}, fmt.Errorf("market %s: %s holds no winning stake: %w", m.id, claimant, domain.ErrNotFound)
		}

		winPool := m.outcomes[win].Pool
		var losing uint64
		for i, o := range m.outcomes {
			if i != win {
				losing += o.Pool
			}
		}
		if winPool > 0 {
			winnings = losing * stake / winPool
		}
	}

	m.claimed[claimant] = true
	gross := m.gross[claimant]
	if gross > m.currentExposure {
		m.currentExposure = 0
	} else {
		m.currentExposure -= gross
	}
	m.riskScoreBps = m.currentExposure * domain.BpsScale / m.maxExposure
	rec := m.recordLocked()
	m.mu.Unlock()

	// Release the claimant's exposure in the risk engine.
	if err := m.d.gate.Apply(ctx, claimant, gross, false); err != nil {
		m.d.logger.WarnContext(ctx, "risk release failed",
			slog.String("market", m.id),
			slog.String("error", err.Error()),
		)
	}
	m.persist(ctx, rec)

	return domain.Payout{
		MarketID: m.id,
		Address:  claimant,
		Stake:    stake,
		Winnings: winnings,
		Total:    stake + winnings,
	}, nil
}
