// Package governance implements validator-quorum resolution for
// multi-outcome event markets: validator registration, vote collection,
// per-outcome tallying, and the dispute path through the governance
// window.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

const (
	// MinValidators is the number of distinct votes required before a
	// consensus check runs.
	MinValidators = 3
	// DefaultConsensusBps is the plurality fraction required to finalize.
	DefaultConsensusBps = 7000
	// DisputeConsensusBps is the supermajority required to finalize a
	// disputed market.
	DisputeConsensusBps = 8000
	// DefaultGovernanceWindow is how long past the resolution deadline a
	// dispute may be raised.
	DefaultGovernanceWindow = 7 * 24 * time.Hour
)

// Finalizer is the narrow market surface the resolver drives. The event
// market implements it; the resolver never sees pools or prices.
type Finalizer interface {
	ID() string
	Creator() string
	EndAt() time.Time
	ResolutionDeadline() time.Time
	GovernanceEnd() time.Time
	OutcomeCount() int
	Resolved() bool
	FinalizeByGovernance(ctx context.Context, outcome int) error
	MarkDisputed(ctx context.Context) error
	CancelByGovernance(ctx context.Context) error
}

// Resolver collects validator votes for one event market and finalizes
// it once consensus is reached.
type Resolver struct {
	mu sync.Mutex

	market       Finalizer
	consensusBps uint64
	validators   map[string]struct{}
	votes        map[string]int
	disputed     bool
	disputeVotes int

	clock  func() time.Time
	logger *slog.Logger
}

// NewResolver creates a resolver for one event market. consensusBps of 0
// selects the default threshold.
func NewResolver(market Finalizer, consensusBps uint64, logger *slog.Logger) *Resolver {
	if consensusBps == 0 {
		consensusBps = DefaultConsensusBps
	}
	return &Resolver{
		market:       market,
		consensusBps: consensusBps,
		validators:   make(map[string]struct{}),
		votes:        make(map[string]int),
		clock:        time.Now,
		logger:       logger.With(slog.String("component", "governance"), slog.String("market", market.ID())),
	}
}

// SetClock overrides the resolver clock. Intended for tests.
func (r *Resolver) SetClock(clock func() time.Time) { r.clock = clock }

// RegisterValidator adds a validator. Only the market creator may
// register, each validator at most once, and only while the market is
// unresolved.
func (r *Resolver) RegisterValidator(caller, validator string) error {
	if validator == "" {
		return fmt.Errorf("governance: empty validator: %w", domain.ErrInvalidArgument)
	}
	if caller != r.market.Creator() {
		return fmt.Errorf("governance: register by %s: %w", caller, domain.ErrUnauthorized)
	}
	if r.market.Resolved() {
		return fmt.Errorf("governance: market resolved: %w", domain.ErrInvalidState)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.validators[validator]; ok {
		return fmt.Errorf("governance: validator %s: %w", validator, domain.ErrAlreadyExists)
	}
	r.validators[validator] = struct{}{}
	return nil
}

// CastVote records a validator's vote for an outcome index; re-voting
// overwrites the prior vote. Voting opens after the betting window closes
// and runs until the resolution deadline, or until governance end while a
// dispute is open. Once enough distinct votes exist a consensus check
// runs and may finalize the market.
func (r *Resolver) CastVote(ctx context.Context, validator string, outcome int) error {
	if outcome < 0 || outcome >= r.market.OutcomeCount() {
		return fmt.Errorf("governance: outcome %d of %d: %w", outcome, r.market.OutcomeCount(), domain.ErrInvalidArgument)
	}
	if r.market.Resolved() {
		return fmt.Errorf("governance: market resolved: %w", domain.ErrInvalidState)
	}

	r.mu.Lock()

	if _, ok := r.validators[validator]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("governance: unregistered validator %s: %w", validator, domain.ErrUnauthorized)
	}

	now := r.clock()
	if !now.After(r.market.EndAt()) {
		r.mu.Unlock()
		return fmt.Errorf("governance: voting before market end: %w", domain.ErrInvalidState)
	}
	inPrimary := !now.After(r.market.ResolutionDeadline())
	inDispute := r.disputed && !now.After(r.market.GovernanceEnd())
	if !inPrimary && !inDispute {
		r.mu.Unlock()
		return fmt.Errorf("governance: voting window closed: %w", domain.ErrInvalidState)
	}

	r.votes[validator] = outcome
	counts, winner, fraction := r.tallyLocked()
	enough := len(r.votes) >= MinValidators
	threshold := r.consensusBps
	if r.disputed {
		threshold = DisputeConsensusBps
	}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "vote cast",
		slog.String("validator", validator),
		slog.Int("outcome", outcome),
		slog.Int("votes", sum(counts)),
	)

	if enough && fraction >= threshold {
		if err := r.market.FinalizeByGovernance(ctx, winner); err != nil {
			// A concurrent threshold-crossing vote can win the finalize
			// race between unlock and here; the vote itself was recorded.
			if errors.Is(err, domain.ErrInvalidState) && r.market.Resolved() {
				return nil
			}
			return fmt.Errorf("governance: finalize: %w", err)
		}
		r.logger.InfoContext(ctx, "market finalized by consensus",
			slog.Int("outcome", winner),
			slog.Uint64("fraction_bps", fraction),
		)
	}
	return nil
}

// RaiseDispute opens the dispute path. Only a registered validator may
// dispute, only after the resolution deadline passed without consensus,
// and only inside the governance window.
func (r *Resolver) RaiseDispute(ctx context.Context, validator string) error {
	if r.market.Resolved() {
		return fmt.Errorf("governance: market resolved: %w", domain.ErrInvalidState)
	}

	r.mu.Lock()

	if _, ok := r.validators[validator]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("governance: unregistered validator %s: %w", validator, domain.ErrUnauthorized)
	}
	now := r.clock()
	if !now.After(r.market.ResolutionDeadline()) || now.After(r.market.GovernanceEnd()) {
		r.mu.Unlock()
		return fmt.Errorf("governance: outside dispute window: %w", domain.ErrInvalidState)
	}

	first := !r.disputed
	r.disputed = true
	r.disputeVotes++
	r.mu.Unlock()

	if first {
		if err := r.market.MarkDisputed(ctx); err != nil {
			return fmt.Errorf("governance: mark disputed: %w", err)
		}
	}
	r.logger.WarnContext(ctx, "dispute raised", slog.String("validator", validator))
	return nil
}

// CloseGovernance settles a market whose governance window has expired
// without consensus: a final tally at the applicable threshold, and
// cancellation if it still fails.
func (r *Resolver) CloseGovernance(ctx context.Context) error {
	if r.market.Resolved() {
		return fmt.Errorf("governance: market resolved: %w", domain.ErrInvalidState)
	}

	r.mu.Lock()
	now := r.clock()
	if !now.After(r.market.GovernanceEnd()) {
		r.mu.Unlock()
		return fmt.Errorf("governance: window still open: %w", domain.ErrInvalidState)
	}
	_, winner, fraction := r.tallyLocked()
	enough := len(r.votes) >= MinValidators
	threshold := r.consensusBps
	if r.disputed {
		threshold = DisputeConsensusBps
	}
	r.mu.Unlock()

	if enough && fraction >= threshold {
		return r.market.FinalizeByGovernance(ctx, winner)
	}
	r.logger.WarnContext(ctx, "governance closed without consensus",
		slog.Uint64("fraction_bps", fraction),
		slog.Int("votes", len(r.votes)),
	)
	return r.market.CancelByGovernance(ctx)
}

// Status is a read-only snapshot of the resolver's voting state.
type Status struct {
	Validators   int    `json:"validators"`
	Votes        int    `json:"votes"`
	Counts       []int  `json:"counts"`
	Leader       int    `json:"leader"`
	FractionBps  uint64 `json:"fraction_bps"`
	ConsensusBps uint64 `json:"consensus_bps"`
	Disputed     bool   `json:"disputed"`
	DisputeVotes int    `json:"dispute_votes"`
}

// Snapshot returns the current voting state.
func (r *Resolver) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts, winner, fraction := r.tallyLocked()
	threshold := r.consensusBps
	if r.disputed {
		threshold = DisputeConsensusBps
	}
	return Status{
		Validators:   len(r.validators),
		Votes:        len(r.votes),
		Counts:       counts,
		Leader:       winner,
		FractionBps:  fraction,
		ConsensusBps: threshold,
		Disputed:     r.disputed,
		DisputeVotes: r.disputeVotes,
	}
}

func sum(counts []int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}
