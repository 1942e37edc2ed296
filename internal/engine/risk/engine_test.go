package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *Registry, *testClock) {
	t.Helper()
	// Midday UTC so the off-hours pattern stays quiet unless a test wants it.
	clk := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry()
	reg.SetClock(clk.Now)
	eng := NewEngine("apt", Config{MaxPositionSize: 1000}, reg, Stores{}, slog.Default())
	eng.SetClock(clk.Now)
	return eng, reg, clk
}

func TestCheckAllowsFreshUser(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	require.NoError(t, eng.Check("alice", 500))
}

func TestCheckDeniesOversizedAmount(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	err := eng.Check("alice", 1001)
	require.ErrorIs(t, err, domain.ErrResourceExhausted)
}

func TestCheckDeniesProjectedExposure(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	ctx := context.Background()

	// Build up exposure to 9_500 of the 10_000 cap (10x max position).
	for i := 0; i < 10; i++ {
		require.NoError(t, eng.Apply(ctx, "alice", 950, true))
		clk.Advance(2 * time.Minute)
	}

	err := eng.Check("alice", 600)
	require.ErrorIs(t, err, domain.ErrResourceExhausted)

	// Releasing exposure re-admits.
	require.NoError(t, eng.Apply(ctx, "alice", 5000, false))
	clk.Advance(2 * time.Minute)
	require.NoError(t, eng.Check("alice", 600))
}

func TestCheckDeniesWhenBreakerActive(t *testing.T) {
	eng, reg, _ := newTestEngine(t)

	reg.TripBreaker("manual halt")
	err := eng.Check("alice", 10)
	require.ErrorIs(t, err, domain.ErrResourceExhausted)

	reg.ResetBreaker()
	require.NoError(t, eng.Check("alice", 10))
}

func TestCheckIsSideEffectFree(t *testing.T) {
	eng, reg, clk := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Apply(ctx, "alice", 100, true))
	clk.Advance(time.Minute)
	before, err := eng.Snapshot("alice")
	require.NoError(t, err)
	globalBefore := reg.Metrics()

	// A denied admission must not change any state.
	require.Error(t, eng.Check("alice", 999_999))

	after, err := eng.Snapshot("alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, globalBefore, reg.Metrics())
}

func TestDailyTradeLimit(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < MaxDailyTrades; i++ {
		require.NoError(t, eng.Check("alice", 1))
		require.NoError(t, eng.Apply(ctx, "alice", 1, true))
		clk.Advance(2 * time.Minute)
	}

	err := eng.Check("alice", 1)
	require.ErrorIs(t, err, domain.ErrResourceExhausted)

	// The counter resets on day rollover.
	clk.Advance(25 * time.Hour)
	require.NoError(t, eng.Check("alice", 1))
}

func TestVelocityGuard(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	ctx := context.Background()

	// Two trades 30s apart give a velocity of 120/hr.
	require.NoError(t, eng.Apply(ctx, "alice", 1, true))
	clk.Advance(30 * time.Second)
	require.NoError(t, eng.Apply(ctx, "alice", 1, true))

	// 30s later: under the 60s interval with velocity > 10 -> denied.
	clk.Advance(30 * time.Second)
	err := eng.Check("alice", 1)
	require.ErrorIs(t, err, domain.ErrResourceExhausted)

	// After a full minute the interval rule no longer applies.
	clk.Advance(time.Minute)
	require.NoError(t, eng.Check("alice", 1))
}

func TestVelocityComputation(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Apply(ctx, "alice", 1, true))
	clk.Advance(6 * time.Minute) // 360s -> 10 trades/hr
	require.NoError(t, eng.Apply(ctx, "alice", 1, true))

	rec, err := eng.Snapshot("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), rec.VelocityPerHour)
}

func TestFraudReportRestrictsAtThreshold(t *testing.T) {
	eng, reg, _ := newTestEngine(t)
	ctx := context.Background()

	// Seven reports bring the score to 7000; still admitted.
	for i := 0; i < 7; i++ {
		_, err := eng.ReportFraud(ctx, "watcher", "mallory", "wash_trading", "")
		require.NoError(t, err)
	}
	rec, err := eng.Snapshot("mallory")
	require.NoError(t, err)
	assert.Equal(t, uint64(7000), rec.FraudScoreBps)
	assert.False(t, rec.Restricted)

	// One more report reaches 8000 and auto-restricts.
	_, err = eng.ReportFraud(ctx, "watcher", "mallory", "wash_trading", "")
	require.NoError(t, err)
	rec, err = eng.Snapshot("mallory")
	require.NoError(t, err)
	assert.Equal(t, uint64(8000), rec.FraudScoreBps)
	assert.True(t, rec.Restricted)
	assert.Equal(t, 1, reg.Metrics().RestrictedUsers)

	err = eng.Check("mallory", 1)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	// Administrative reset clears restriction and fraud score.
	require.NoError(t, eng.ResetProfile(ctx, "mallory"))
	rec, err = eng.Snapshot("mallory")
	require.NoError(t, err)
	assert.False(t, rec.Restricted)
	assert.Zero(t, rec.FraudScoreBps)
	assert.Empty(t, rec.Patterns)
	assert.Equal(t, 0, reg.Metrics().RestrictedUsers)
	require.NoError(t, eng.Check("mallory", 1))
}

func TestFraudScoreCapped(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := eng.ReportFraud(ctx, "watcher", "mallory", "sybil", "")
		require.NoError(t, err)
	}
	rec, err := eng.Snapshot("mallory")
	require.NoError(t, err)
	assert.Equal(t, uint64(domain.BpsScale), rec.FraudScoreBps)
}

func TestReportFraudValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ReportFraud(ctx, "watcher", "", "tag", "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = eng.ReportFraud(ctx, "watcher", "mallory", "", "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAIRiskBlending(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Low confidence: 20% weight. base 5000, ai 10000 -> 6000.
	require.NoError(t, eng.UpdateAIRisk(ctx, "alice", 10000, 5000))
	rec, err := eng.Snapshot("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(6000), rec.BlendedScoreBps)
	assert.Equal(t, domain.RiskLevelHigh, rec.Level)

	// High confidence: 40% weight. base 5000, ai 10000 -> 7000.
	require.NoError(t, eng.UpdateAIRisk(ctx, "alice", 10000, 8000))
	rec, err = eng.Snapshot("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(7000), rec.BlendedScoreBps)
}

func TestAIRiskAutoRestrict(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	ctx := context.Background()

	// Push the base score up with exposure, then blend a maximal AI score.
	for i := 0; i < 9; i++ {
		require.NoError(t, eng.Apply(ctx, "bob", 900, true))
		clk.Advance(2 * time.Minute)
	}
	require.NoError(t, eng.UpdateAIRisk(ctx, "bob", 10000, 9000))

	rec, err := eng.Snapshot("bob")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rec.BlendedScoreBps, uint64(AIRiskDenyBps))
	assert.True(t, rec.Restricted)
	assert.Equal(t, domain.RiskLevelCritical, rec.Level)
}

func TestAIRiskValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	err := eng.UpdateAIRisk(context.Background(), "alice", 10001, 5000)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSuspiciousPatternAccumulation(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	ctx := context.Background()

	// Oversized positions (> half the 1000 cap) tag a pattern every trade.
	for i := 0; i < 12; i++ {
		require.NoError(t, eng.Apply(ctx, "carol", 600, true))
		require.NoError(t, eng.Apply(ctx, "carol", 600, false))
		clk.Advance(5 * time.Minute)
	}

	rec, err := eng.Snapshot("carol")
	require.NoError(t, err)
	assert.Greater(t, len(rec.Patterns), PatternThreshold)
	// Past the threshold the flat pattern penalty kicks in.
	assert.Greater(t, rec.FraudScoreBps, uint64(0))
}

func TestPerUserMaxPositionOverride(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	require.NoError(t, eng.SetMaxPosition("dave", 50))
	err := eng.Check("dave", 51)
	require.ErrorIs(t, err, domain.ErrResourceExhausted)
	require.NoError(t, eng.Check("dave", 50))

	require.ErrorIs(t, eng.SetMaxPosition("dave", 0), domain.ErrInvalidArgument)
}

func TestGlobalExposureTracking(t *testing.T) {
	eng, reg, clk := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Apply(ctx, "alice", 300, true))
	clk.Advance(2 * time.Minute)
	require.NoError(t, eng.Apply(ctx, "bob", 200, true))
	assert.Equal(t, uint64(500), reg.Metrics().TotalExposure)

	clk.Advance(2 * time.Minute)
	require.NoError(t, eng.Apply(ctx, "alice", 300, false))
	assert.Equal(t, uint64(200), reg.Metrics().TotalExposure)
}

func TestSnapshotUnknownUser(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.Snapshot("nobody")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, eng.ResetProfile(context.Background(), "nobody"), domain.ErrNotFound)
}
