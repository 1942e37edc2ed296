package governance

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

type fakeMarket struct {
	id       string
	creator  string
	endAt    time.Time
	deadline time.Time
	govEnd   time.Time
	outcomes int

	resolved  bool
	winner    int
	disputed  bool
	cancelled bool

	// finalizeRaced makes FinalizeByGovernance behave as if another vote
	// finalized the market first: resolved flips but the call errors.
	finalizeRaced bool
}

func (m *fakeMarket) ID() string                    { return m.id }
func (m *fakeMarket) Creator() string               { return m.creator }
func (m *fakeMarket) EndAt() time.Time              { return m.endAt }
func (m *fakeMarket) ResolutionDeadline() time.Time { return m.deadline }
func (m *fakeMarket) GovernanceEnd() time.Time      { return m.govEnd }
func (m *fakeMarket) OutcomeCount() int             { return m.outcomes }
func (m *fakeMarket) Resolved() bool                { return m.resolved }

func (m *fakeMarket) FinalizeByGovernance(ctx context.Context, outcome int) error {
	if m.finalizeRaced {
		m.resolved = true
		return fmt.Errorf("market %s: resolve on resolved market: %w", m.id, domain.ErrInvalidState)
	}
	m.resolved = true
	m.winner = outcome
	return nil
}

func (m *fakeMarket) MarkDisputed(ctx context.Context) error {
	m.disputed = true
	return nil
}

func (m *fakeMarket) CancelByGovernance(ctx context.Context) error {
	m.cancelled = true
	return nil
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestResolver(t *testing.T, outcomes int) (*Resolver, *fakeMarket, *testClock) {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := &fakeMarket{
		id:       "evt-1",
		creator:  "creator",
		endAt:    base.Add(24 * time.Hour),
		deadline: base.Add(72 * time.Hour),
		govEnd:   base.Add(72*time.Hour + DefaultGovernanceWindow),
		outcomes: outcomes,
	}
	clk := &testClock{now: base}
	r := NewResolver(m, 0, slog.Default())
	r.SetClock(clk.Now)
	return r, m, clk
}

func registerQuorum(t *testing.T, r *Resolver, validators ...string) {
	t.Helper()
	for _, v := range validators {
		require.NoError(t, r.RegisterValidator("creator", v))
	}
}

func TestRegisterValidator(t *testing.T) {
	r, _, _ := newTestResolver(t, 3)

	require.ErrorIs(t, r.RegisterValidator("creator", ""), domain.ErrInvalidArgument)
	require.ErrorIs(t, r.RegisterValidator("mallory", "v1"), domain.ErrUnauthorized)
	require.NoError(t, r.RegisterValidator("creator", "v1"))
	require.ErrorIs(t, r.RegisterValidator("creator", "v1"), domain.ErrAlreadyExists)
}

func TestConsensusFinalizes(t *testing.T) {
	r, m, clk := newTestResolver(t, 3)
	ctx := context.Background()
	registerQuorum(t, r, "v1", "v2", "v3", "v4")

	clk.Advance(25 * time.Hour)
	require.NoError(t, r.CastVote(ctx, "v1", 2))
	require.NoError(t, r.CastVote(ctx, "v2", 2))
	assert.False(t, m.resolved)

	// 3 of 4 votes for outcome 2: 7500 bps meets the threshold.
	require.NoError(t, r.CastVote(ctx, "v3", 0))
	assert.False(t, m.resolved)
	require.NoError(t, r.CastVote(ctx, "v4", 2))
	require.True(t, m.resolved)
	assert.Equal(t, 2, m.winner)
}

func TestCastVoteToleratesLostFinalizeRace(t *testing.T) {
	r, m, clk := newTestResolver(t, 3)
	ctx := context.Background()
	registerQuorum(t, r, "v1", "v2", "v3")

	clk.Advance(25 * time.Hour)
	require.NoError(t, r.CastVote(ctx, "v1", 1))
	require.NoError(t, r.CastVote(ctx, "v2", 1))

	// The third vote crosses the threshold but another vote beat it to the
	// finalize call. The vote is still recorded and the call succeeds.
	m.finalizeRaced = true
	require.NoError(t, r.CastVote(ctx, "v3", 1))
	assert.True(t, m.resolved)
	assert.Equal(t, 3, r.Snapshot().Votes)
}

func TestTallyTieBreaksToLowestIndex(t *testing.T) {
	r, _, clk := newTestResolver(t, 4)
	ctx := context.Background()
	registerQuorum(t, r, "v1", "v2", "v3", "v4")

	clk.Advance(25 * time.Hour)
	require.NoError(t, r.CastVote(ctx, "v1", 3))
	require.NoError(t, r.CastVote(ctx, "v2", 3))
	require.NoError(t, r.CastVote(ctx, "v3", 1))
	require.NoError(t, r.CastVote(ctx, "v4", 1))

	status := r.Snapshot()
	assert.Equal(t, []int{0, 2, 0, 2}, status.Counts)
	assert.Equal(t, 1, status.Leader)
	assert.Equal(t, uint64(5000), status.FractionBps)
}

func TestVotingWindows(t *testing.T) {
	r, _, clk := newTestResolver(t, 3)
	ctx := context.Background()
	registerQuorum(t, r, "v1")

	require.ErrorIs(t, r.CastVote(ctx, "v1", 0), domain.ErrInvalidState) // before end

	clk.Advance(80 * time.Hour) // past the resolution deadline, no dispute
	require.ErrorIs(t, r.CastVote(ctx, "v1", 0), domain.ErrInvalidState)
}

func TestDisputePath(t *testing.T) {
	r, m, clk := newTestResolver(t, 3)
	ctx := context.Background()
	registerQuorum(t, r, "v1", "v2", "v3")

	// Too early to dispute.
	clk.Advance(25 * time.Hour)
	require.ErrorIs(t, r.RaiseDispute(ctx, "v1"), domain.ErrInvalidState)

	// Split vote, no consensus by the deadline.
	require.NoError(t, r.CastVote(ctx, "v1", 0))
	require.NoError(t, r.CastVote(ctx, "v2", 1))
	require.NoError(t, r.CastVote(ctx, "v3", 2))
	require.False(t, m.resolved)

	clk.Advance(50 * time.Hour) // past deadline, inside governance window
	require.ErrorIs(t, r.RaiseDispute(ctx, "stranger"), domain.ErrUnauthorized)
	require.NoError(t, r.RaiseDispute(ctx, "v1"))
	require.True(t, m.disputed)

	// Disputed markets need a supermajority: 2 of 3 is not enough.
	require.NoError(t, r.CastVote(ctx, "v2", 0))
	assert.False(t, m.resolved)

	// Unanimity clears the raised bar.
	require.NoError(t, r.CastVote(ctx, "v3", 0))
	require.True(t, m.resolved)
	assert.Equal(t, 0, m.winner)
}

func TestCloseGovernanceCancelsWithoutConsensus(t *testing.T) {
	r, m, clk := newTestResolver(t, 3)
	ctx := context.Background()
	registerQuorum(t, r, "v1", "v2", "v3")

	clk.Advance(25 * time.Hour)
	require.NoError(t, r.CastVote(ctx, "v1", 0))
	require.NoError(t, r.CastVote(ctx, "v2", 1))
	require.NoError(t, r.CastVote(ctx, "v3", 2))

	require.ErrorIs(t, r.CloseGovernance(ctx), domain.ErrInvalidState) // window still open

	clk.Advance(300 * time.Hour)
	require.NoError(t, r.CloseGovernance(ctx))
	assert.False(t, m.resolved)
	assert.True(t, m.cancelled)
}

func TestCloseGovernanceDisputedNeedsSupermajority(t *testing.T) {
	r, m, clk := newTestResolver(t, 3)
	ctx := context.Background()
	registerQuorum(t, r, "v1", "v2", "v3")

	// 2 of 3 for outcome 0: enough for nothing once disputed.
	clk.Advance(25 * time.Hour)
	require.NoError(t, r.CastVote(ctx, "v1", 0))
	require.NoError(t, r.CastVote(ctx, "v2", 1))

	clk.Advance(50 * time.Hour)
	require.NoError(t, r.RaiseDispute(ctx, "v3"))
	require.NoError(t, r.CastVote(ctx, "v3", 0))
	require.False(t, m.resolved) // 6667 bps under the 8000 bar

	clk.Advance(300 * time.Hour)
	require.NoError(t, r.CloseGovernance(ctx))
	assert.True(t, m.cancelled)
}

func TestSnapshot(t *testing.T) {
	r, _, clk := newTestResolver(t, 3)
	ctx := context.Background()
	registerQuorum(t, r, "v1", "v2", "v3")

	clk.Advance(25 * time.Hour)
	require.NoError(t, r.CastVote(ctx, "v1", 0))
	require.NoError(t, r.CastVote(ctx, "v2", 1))

	status := r.Snapshot()
	assert.Equal(t, 3, status.Validators)
	assert.Equal(t, 2, status.Votes)
	assert.Equal(t, uint64(DefaultConsensusBps), status.ConsensusBps)
	assert.False(t, status.Disputed)
}
