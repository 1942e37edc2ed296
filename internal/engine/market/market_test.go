package market

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamalbuilds/aptos-markets/internal/asset"
	"github.com/kamalbuilds/aptos-markets/internal/domain"
	"github.com/kamalbuilds/aptos-markets/internal/governance"
	"github.com/kamalbuilds/aptos-markets/internal/registry"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// stubGate admits everything unless checkErr is set and records the
// amounts flowing through Apply.
type stubGate struct {
	checkErr error
	applied  []uint64
	released []uint64
	markets  int
}

func (g *stubGate) Check(user string, amount uint64) error { return g.checkErr }

func (g *stubGate) Apply(ctx context.Context, user string, amount uint64, open bool) error {
	if open {
		g.applied = append(g.applied, amount)
	} else {
		g.released = append(g.released, amount)
	}
	return nil
}

func (g *stubGate) RegisterMarket() { g.markets++ }

func newTestMarketplace(t *testing.T, cfg Config) (*Marketplace[asset.APT], *stubGate, *testClock, *registry.Registry) {
	t.Helper()
	clk := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	reg, cap := registry.New()
	reg.SetClock(clk.Now)
	gate := &stubGate{}
	mp, err := NewMarketplace[asset.APT](cfg, gate, reg, cap, Stores{}, nil, slog.Default())
	require.NoError(t, err)
	mp.SetClock(clk.Now)
	return mp, gate, clk, reg
}

func params(clk *testClock, liquidity uint64) CreateParams {
	return CreateParams{
		Title:            "BTC above 100k by July",
		Category:         "crypto",
		Creator:          "creator",
		StartAt:          clk.now.Add(time.Hour),
		EndAt:            clk.now.Add(24 * time.Hour),
		InitialLiquidity: liquidity,
	}
}

// createActive opens a binary market and drives it into Active.
func createActive(t *testing.T, mp *Marketplace[asset.APT], clk *testClock, p CreateParams) *Market[asset.APT] {
	t.Helper()
	ctx := context.Background()
	m, err := mp.CreateMarket(ctx, p)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	require.NoError(t, m.Start(ctx, p.Creator))
	return m
}

func TestCreateMarket(t *testing.T) {
	mp, gate, clk, reg := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	m, err := mp.CreateMarket(ctx, params(clk, 1000))
	require.NoError(t, err)

	rec := m.Snapshot()
	assert.Equal(t, domain.MarketStatusPending, rec.Status)
	assert.Equal(t, domain.MarketKindBinary, rec.Kind)
	assert.Equal(t, "APT", rec.Asset)
	assert.Equal(t, []uint64{5000, 5000}, m.Prices())
	assert.Equal(t, uint64(10_000), rec.MaxExposure)
	assert.Equal(t, uint64(100_000), rec.DailyVolumeLimit)
	assert.Equal(t, uint64(1000), rec.Liquidity)
	require.Len(t, rec.Providers, 1)
	assert.Equal(t, "creator", rec.Providers[0].Address)

	entry, err := reg.Lookup("APT")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.MarketCount)
	assert.Equal(t, 1, gate.markets)
}

func TestCreateMarketValidation(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"empty title", func(p *CreateParams) { p.Title = "" }},
		{"empty creator", func(p *CreateParams) { p.Creator = "" }},
		{"start in the past", func(p *CreateParams) { p.StartAt = clk.now.Add(-time.Minute) }},
		{"end before start", func(p *CreateParams) { p.EndAt = p.StartAt.Add(-time.Minute) }},
		{"liquidity below minimum", func(p *CreateParams) { p.InitialLiquidity = 5 }},
		{"fee over cap", func(p *CreateParams) { p.MarketFeeBps = 900; p.CreatorFeeBps = 200 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := params(clk, 1000)
			tc.mutate(&p)
			_, err := mp.CreateMarket(ctx, p)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestCreateEventMarket(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	p := params(clk, 1000)
	ev := EventParams{
		Outcomes:           []string{"Alice", "Bob", "Carol"},
		ResolutionDeadline: p.EndAt.Add(48 * time.Hour),
	}
	m, res, err := mp.CreateEventMarket(ctx, p, ev)
	require.NoError(t, err)
	require.NotNil(t, res)

	rec := m.Snapshot()
	assert.Equal(t, domain.MarketKindEvent, rec.Kind)
	assert.Equal(t, []uint64{3334, 3333, 3333}, m.Prices())
	assert.Equal(t, uint64(20_000), rec.MaxExposure)
	require.NotNil(t, rec.ResolutionDeadline)
	require.NotNil(t, rec.GovernanceEnd)
	assert.Equal(t, ev.ResolutionDeadline.Add(governance.DefaultGovernanceWindow), *rec.GovernanceEnd)

	got, err := mp.Resolver(m.ID())
	require.NoError(t, err)
	assert.Same(t, res, got)
}

func TestCreateEventMarketValidation(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	base := func() (CreateParams, EventParams) {
		p := params(clk, 1000)
		return p, EventParams{
			Outcomes:           []string{"A", "B", "C"},
			ResolutionDeadline: p.EndAt.Add(48 * time.Hour),
		}
	}

	p, ev := base()
	ev.Outcomes = []string{"only"}
	_, _, err := mp.CreateEventMarket(ctx, p, ev)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	p, ev = base()
	ev.Outcomes = make([]string, MaxOutcomes+1)
	for i := range ev.Outcomes {
		ev.Outcomes[i] = string(rune('A' + i))
	}
	_, _, err = mp.CreateEventMarket(ctx, p, ev)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	p, ev = base()
	ev.Outcomes = []string{"A", "A"}
	_, _, err = mp.CreateEventMarket(ctx, p, ev)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	p, ev = base()
	ev.ResolutionDeadline = p.EndAt.Add(-time.Hour)
	_, _, err = mp.CreateEventMarket(ctx, p, ev)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDuplicateMarketplaceRejected(t *testing.T) {
	reg, cap := registry.New()
	gate := &stubGate{}

	_, err := NewMarketplace[asset.APT](Config{MinBet: 10}, gate, reg, cap, Stores{}, nil, slog.Default())
	require.NoError(t, err)

	// Same registry, same asset: the directory refuses the second entry.
	_, err = NewMarketplace[asset.APT](Config{MinBet: 10}, gate, reg, cap, Stores{}, nil, slog.Default())
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestStartTransitions(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	m, err := mp.CreateMarket(ctx, params(clk, 1000))
	require.NoError(t, err)

	require.ErrorIs(t, m.Start(ctx, "mallory"), domain.ErrUnauthorized)
	require.ErrorIs(t, m.Start(ctx, "creator"), domain.ErrInvalidState) // before start time

	clk.Advance(time.Hour)
	require.NoError(t, m.Start(ctx, "creator"))
	assert.Equal(t, domain.MarketStatusActive, m.Snapshot().Status)

	require.ErrorIs(t, m.Start(ctx, "creator"), domain.ErrInvalidState)
}

func TestPlaceBetFlow(t *testing.T) {
	mp, gate, clk, reg := newTestMarketplace(t, Config{MinBet: 10, FeeRateBps: 200, CreatorFeeBps: 100})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000))

	receipt, err := m.PlaceBet(ctx, "alice", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), receipt.Fee) // 300 bps of 1000
	assert.Equal(t, uint64(970), receipt.NetStake)
	assert.Equal(t, uint64(1000), receipt.TotalVolume)

	_, err = m.PlaceBet(ctx, "bob", 1, 1000)
	require.NoError(t, err)

	rec := m.Snapshot()
	assert.Equal(t, uint64(2000), rec.TotalVolume)
	assert.Equal(t, uint64(2000), rec.CurrentExposure)
	assert.Equal(t, uint64(60), rec.AccumulatedFees)
	assert.Equal(t, 2, rec.Participants)
	assert.Equal(t, []uint64{5000, 5000}, m.Prices())

	entry, err := reg.Lookup("APT")
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), entry.TotalVolume)
	assert.Equal(t, []uint64{1000, 1000}, gate.applied)

	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, uint64(2000), history[1].Volume)
}

func TestPlaceBetValidation(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	m, err := mp.CreateMarket(ctx, params(clk, 1000))
	require.NoError(t, err)

	_, err = m.PlaceBet(ctx, "alice", 0, 100)
	require.ErrorIs(t, err, domain.ErrInvalidState) // still pending

	clk.Advance(time.Hour)
	require.NoError(t, m.Start(ctx, "creator"))

	_, err = m.PlaceBet(ctx, "alice", 2, 100)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = m.PlaceBet(ctx, "alice", 0, 5)
	require.ErrorIs(t, err, domain.ErrInvalidArgument) // below minimum

	clk.Advance(24 * time.Hour)
	_, err = m.PlaceBet(ctx, "alice", 0, 100)
	require.ErrorIs(t, err, domain.ErrInvalidState) // betting closed
}

func TestPlaceBetRiskDenialIsSideEffectFree(t *testing.T) {
	mp, gate, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000))

	before := m.Snapshot()
	gate.checkErr = domain.ErrUnauthorized

	_, err := m.PlaceBet(ctx, "alice", 0, 100)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, before, m.Snapshot())
	assert.Empty(t, gate.applied)
}

func TestPlaceBetExposureCap(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000)) // cap 10_000

	_, err := m.PlaceBet(ctx, "alice", 0, 9600)
	require.NoError(t, err)

	before := m.Snapshot()
	_, err = m.PlaceBet(ctx, "bob", 1, 500)
	require.ErrorIs(t, err, domain.ErrResourceExhausted)
	assert.Equal(t, before, m.Snapshot())

	_, err = m.PlaceBet(ctx, "bob", 1, 400)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), m.Snapshot().CurrentExposure)
}

func TestRiskScoreTracksExposure(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000)) // cap 10_000

	assert.Equal(t, uint64(0), m.Snapshot().RiskScoreBps)

	_, err := m.PlaceBet(ctx, "alice", 0, 2500)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), m.Snapshot().RiskScoreBps)

	_, err = m.PlaceBet(ctx, "bob", 1, 2500)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), m.Snapshot().RiskScoreBps)

	// Claims release exposure and the score follows.
	clk.Advance(24 * time.Hour)
	require.NoError(t, m.Resolve(ctx, "creator", 0, "oracle"))
	_, err = m.Claim(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), m.Snapshot().RiskScoreBps)
}

func TestDailyVolumeWindowRollover(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	p := params(clk, 1000)
	p.EndAt = clk.now.Add(96 * time.Hour)
	m := createActive(t, mp, clk, p)

	_, err := m.PlaceBet(ctx, "alice", 0, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), m.Snapshot().DailyVolumeUsed)

	clk.Advance(25 * time.Hour)
	_, err = m.PlaceBet(ctx, "alice", 0, 600)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), m.Snapshot().DailyVolumeUsed)
}

func TestApplySignal(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10, SignalEnabled: true})
	ctx := context.Background()

	p := params(clk, 1000)
	p.EndAt = clk.now.Add(96 * time.Hour)
	m := createActive(t, mp, clk, p)

	_, err := m.PlaceBet(ctx, "alice", 0, 1000)
	require.NoError(t, err)
	_, err = m.PlaceBet(ctx, "bob", 1, 1000)
	require.NoError(t, err)
	require.Equal(t, []uint64{5000, 5000}, m.Prices())

	require.ErrorIs(t, m.ApplySignal(ctx, 10_001, 8000), domain.ErrInvalidArgument)

	// Confident bullish signal shifts the yes price.
	require.NoError(t, m.ApplySignal(ctx, 9000, 8000))
	assert.Equal(t, []uint64{5400, 4600}, m.Prices())

	// Low confidence records the signal but leaves pool pricing alone.
	require.NoError(t, m.ApplySignal(ctx, 9000, 7000))
	assert.Equal(t, []uint64{5000, 5000}, m.Prices())

	// A stale signal stops influencing the next reprice.
	require.NoError(t, m.ApplySignal(ctx, 9000, 8000))
	assert.Equal(t, []uint64{5400, 4600}, m.Prices())
	clk.Advance(400 * time.Second)
	_, err = m.PlaceBet(ctx, "alice", 0, 200)
	require.NoError(t, err)
	_, err = m.PlaceBet(ctx, "bob", 1, 200)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5000, 5000}, m.Prices())
}

func TestApplySignalDisabled(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000))

	require.ErrorIs(t, m.ApplySignal(ctx, 9000, 8000), domain.ErrInvalidState)
}

func TestUpdatePredictions(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	binary := createActive(t, mp, clk, params(clk, 1000))
	require.ErrorIs(t, binary.UpdatePredictions(ctx, []uint64{1, 2}, []uint64{3, 4}), domain.ErrInvalidState)

	p := params(clk, 1000)
	ev := EventParams{Outcomes: []string{"A", "B", "C"}, ResolutionDeadline: p.EndAt.Add(48 * time.Hour)}
	m, _, err := mp.CreateEventMarket(ctx, p, ev)
	require.NoError(t, err)

	require.ErrorIs(t, m.UpdatePredictions(ctx, []uint64{1, 2}, []uint64{3, 4}), domain.ErrInvalidArgument)
	require.ErrorIs(t, m.UpdatePredictions(ctx, []uint64{1, 2, 10_001}, []uint64{3, 4, 5}), domain.ErrInvalidArgument)

	require.NoError(t, m.UpdatePredictions(ctx, []uint64{6000, 3000, 1000}, []uint64{7000, 2000, 1000}))
	rec := m.Snapshot()
	assert.Equal(t, uint64(6000), rec.Outcomes[0].PredictionBps)
	assert.Equal(t, uint64(7000), rec.Outcomes[0].SentimentBps)
}

func TestResolveAndClaims(t *testing.T) {
	mp, gate, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000))

	_, err := m.PlaceBet(ctx, "alice", 0, 1000)
	require.NoError(t, err)
	_, err = m.PlaceBet(ctx, "bob", 1, 500)
	require.NoError(t, err)

	_, err = m.Payouts()
	require.ErrorIs(t, err, domain.ErrInvalidState)

	require.ErrorIs(t, m.Resolve(ctx, "creator", 0, "oracle"), domain.ErrInvalidState) // before end
	clk.Advance(24 * time.Hour)
	require.ErrorIs(t, m.Resolve(ctx, "mallory", 0, "oracle"), domain.ErrUnauthorized)
	require.ErrorIs(t, m.Resolve(ctx, "creator", 5, "oracle"), domain.ErrInvalidArgument)

	require.NoError(t, m.Resolve(ctx, "creator", 0, "oracle"))
	assert.Equal(t, domain.MarketStatusResolved, m.Snapshot().Status)
	require.ErrorIs(t, m.Resolve(ctx, "creator", 0, "oracle"), domain.ErrInvalidState)

	payouts, err := m.Payouts()
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, "alice", payouts[0].Address)
	assert.Equal(t, uint64(1000), payouts[0].Stake)
	assert.Equal(t, uint64(500), payouts[0].Winnings)
	assert.Equal(t, uint64(1500), payouts[0].Total)

	got, err := m.Claim(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, payouts[0], got)
	assert.Equal(t, []uint64{1000}, gate.released)

	_, err = m.Claim(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = m.Claim(ctx, "bob")
	require.ErrorIs(t, err, domain.ErrNotFound) // no winning stake
	_, err = m.Claim(ctx, "carol")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	pending, err := mp.CreateMarket(ctx, params(clk, 1000))
	require.NoError(t, err)
	require.ErrorIs(t, pending.Cancel(ctx, "mallory"), domain.ErrUnauthorized)
	require.NoError(t, pending.Cancel(ctx, "creator"))
	assert.Equal(t, domain.MarketStatusCancelled, pending.Snapshot().Status)

	traded := createActive(t, mp, clk, params(clk, 1000))
	_, err = traded.PlaceBet(ctx, "alice", 0, 100)
	require.NoError(t, err)
	require.ErrorIs(t, traded.Cancel(ctx, "creator"), domain.ErrInvalidState)
}

func TestSweepExpiredCancelsAbandonedBinary(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000))

	_, err := m.PlaceBet(ctx, "alice", 0, 500)
	require.NoError(t, err)

	rec := m.Snapshot()
	require.NotNil(t, rec.ResolutionDeadline)
	assert.Equal(t, rec.EndAt.Add(BinaryResolutionWindow), *rec.ResolutionDeadline)

	// Betting closed but still inside the resolution window.
	clk.Advance(24 * time.Hour)
	assert.Equal(t, 0, mp.SweepExpired(ctx, clk.Now()))
	assert.Equal(t, domain.MarketStatusActive, m.Snapshot().Status)

	// Past the window the sweep cancels and stakes become refundable.
	clk.Advance(BinaryResolutionWindow + time.Minute)
	assert.Equal(t, 1, mp.SweepExpired(ctx, clk.Now()))
	assert.Equal(t, domain.MarketStatusCancelled, m.Snapshot().Status)

	got, err := m.Claim(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.Stake)
	assert.Equal(t, uint64(0), got.Winnings)

	// A second sweep finds nothing to act on.
	assert.Equal(t, 0, mp.SweepExpired(ctx, clk.Now()))
}

func TestCancelExpiredPreconditions(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000))

	// Deadline not reached yet.
	require.ErrorIs(t, m.CancelExpired(ctx, clk.Now()), domain.ErrInvalidState)

	// Resolved markets are left alone.
	clk.Advance(24 * time.Hour)
	require.NoError(t, m.Resolve(ctx, "creator", 0, "oracle"))
	late := clk.Now().Add(BinaryResolutionWindow + time.Hour)
	require.ErrorIs(t, m.CancelExpired(ctx, late), domain.ErrInvalidState)

	// Event markets settle through governance, never through expiry.
	p := params(clk, 1000)
	ev := EventParams{Outcomes: []string{"A", "B"}, ResolutionDeadline: p.EndAt.Add(48 * time.Hour)}
	evm, _, err := mp.CreateEventMarket(ctx, p, ev)
	require.NoError(t, err)
	require.ErrorIs(t, evm.CancelExpired(ctx, late.Add(240*time.Hour)), domain.ErrInvalidState)
}

func TestGovernanceCancelRefundsStakes(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	p := params(clk, 1000)
	ev := EventParams{Outcomes: []string{"A", "B", "C"}, ResolutionDeadline: p.EndAt.Add(48 * time.Hour)}
	m, _, err := mp.CreateEventMarket(ctx, p, ev)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	require.NoError(t, m.Start(ctx, "creator"))

	_, err = m.PlaceBet(ctx, "alice", 1, 800)
	require.NoError(t, err)

	require.NoError(t, m.CancelByGovernance(ctx))
	assert.Equal(t, domain.MarketStatusCancelled, m.Snapshot().Status)

	got, err := m.Claim(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(800), got.Stake)
	assert.Equal(t, uint64(0), got.Winnings)
	assert.Equal(t, uint64(800), got.Total)

	_, err = m.Claim(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestPauseResume(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000))

	require.ErrorIs(t, m.Resume(ctx, "creator"), domain.ErrInvalidState)
	require.NoError(t, m.Pause(ctx, "creator"))

	_, err := m.PlaceBet(ctx, "alice", 0, 100)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	require.NoError(t, m.Resume(ctx, "creator"))
	_, err = m.PlaceBet(ctx, "alice", 0, 100)
	require.NoError(t, err)
}

func TestLiquidity(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()
	m := createActive(t, mp, clk, params(clk, 1000))

	require.ErrorIs(t, m.AddLiquidity(ctx, "dave", 0), domain.ErrInvalidArgument)
	require.NoError(t, m.AddLiquidity(ctx, "dave", 500))
	assert.Equal(t, uint64(1500), m.Snapshot().Liquidity)

	require.ErrorIs(t, m.RemoveLiquidity(ctx, "eve", 100), domain.ErrNotFound)
	require.ErrorIs(t, m.RemoveLiquidity(ctx, "dave", 600), domain.ErrResourceExhausted)

	// Removal back to the floor is allowed; past it is not.
	require.NoError(t, m.RemoveLiquidity(ctx, "dave", 500))
	require.ErrorIs(t, m.RemoveLiquidity(ctx, "creator", 1), domain.ErrResourceExhausted)

	clk.Advance(24 * time.Hour)
	require.NoError(t, m.Resolve(ctx, "creator", 0, "oracle"))
	require.NoError(t, m.RemoveLiquidity(ctx, "creator", 600))
	assert.Equal(t, uint64(400), m.Snapshot().Liquidity)
}

func TestEventGovernanceLifecycle(t *testing.T) {
	mp, _, clk, _ := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	p := params(clk, 1000)
	ev := EventParams{Outcomes: []string{"A", "B", "C"}, ResolutionDeadline: p.EndAt.Add(48 * time.Hour)}
	m, res, err := mp.CreateEventMarket(ctx, p, ev)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	require.NoError(t, m.Start(ctx, "creator"))

	require.ErrorIs(t, res.RegisterValidator("mallory", "v1"), domain.ErrUnauthorized)
	require.NoError(t, res.RegisterValidator("creator", "v1"))
	require.ErrorIs(t, res.RegisterValidator("creator", "v1"), domain.ErrAlreadyExists)
	require.NoError(t, res.RegisterValidator("creator", "v2"))
	require.NoError(t, res.RegisterValidator("creator", "v3"))

	require.ErrorIs(t, res.CastVote(ctx, "v1", 1), domain.ErrInvalidState) // before market end

	clk.Advance(24 * time.Hour)
	require.ErrorIs(t, res.CastVote(ctx, "stranger", 1), domain.ErrUnauthorized)
	require.ErrorIs(t, res.CastVote(ctx, "v1", 3), domain.ErrInvalidArgument)

	// Two votes are unanimous but below the quorum size.
	require.NoError(t, res.CastVote(ctx, "v1", 1))
	require.NoError(t, res.CastVote(ctx, "v2", 1))
	assert.False(t, m.Resolved())

	// Third vote splits the tally below the consensus threshold.
	require.NoError(t, res.CastVote(ctx, "v3", 2))
	assert.False(t, m.Resolved())

	// Re-voting restores unanimity and finalizes.
	require.NoError(t, res.CastVote(ctx, "v3", 1))
	require.True(t, m.Resolved())

	rec := m.Snapshot()
	require.NotNil(t, rec.WinningOutcome)
	assert.Equal(t, 1, *rec.WinningOutcome)
	assert.Equal(t, "governance", rec.ResolutionSrc)

	require.ErrorIs(t, res.CastVote(ctx, "v2", 0), domain.ErrInvalidState)
}

func TestListMarkets(t *testing.T) {
	mp, _, clk, reg := newTestMarketplace(t, Config{MinBet: 10})
	ctx := context.Background()

	first, err := mp.CreateMarket(ctx, params(clk, 1000))
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, err := mp.CreateMarket(ctx, params(clk, 1000))
	require.NoError(t, err)

	all := mp.ListMarkets("")
	require.Len(t, all, 2)
	assert.Equal(t, first.ID(), all[0].ID)
	assert.Equal(t, second.ID(), all[1].ID)

	clk.Advance(time.Hour)
	require.NoError(t, second.Start(ctx, "creator"))
	active := mp.ListMarkets(domain.MarketStatusActive)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID(), active[0].ID)

	view, err := reg.View("APT")
	require.NoError(t, err)
	got, err := view.GetMarket(first.ID())
	require.NoError(t, err)
	assert.Equal(t, first.ID(), got.ID)

	_, err = mp.GetMarket("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
