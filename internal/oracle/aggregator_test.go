package oracle

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

type captureCache struct{ snaps []domain.ConsensusSnapshot }

func (c *captureCache) Set(ctx context.Context, snap domain.ConsensusSnapshot) error {
	c.snaps = append(c.snaps, snap)
	return nil
}

func (c *captureCache) Get(ctx context.Context, symbol string) (domain.ConsensusSnapshot, error) {
	return domain.ConsensusSnapshot{}, domain.ErrNotFound
}

func newTestAggregator(t *testing.T) (*Aggregator, *captureCache, *testClock) {
	t.Helper()
	clk := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := &captureCache{}
	agg := NewAggregator(cache, slog.Default())
	agg.SetClock(clk.Now)
	return agg, cache, clk
}

func feed(name, symbol string, price, confidence uint64, at time.Time) *StaticSource {
	s := NewStaticSource(name)
	s.Set(domain.SourceReading{Symbol: symbol, Price: price, ConfidenceBps: confidence, Timestamp: at})
	return s
}

func TestAddSourceLimits(t *testing.T) {
	agg, _, _ := newTestAggregator(t)

	for i := 0; i < MaxSources; i++ {
		require.NoError(t, agg.AddSource(NewStaticSource(string(rune('a'+i))), 0))
	}
	err := agg.AddSource(NewStaticSource("extra"), 0)
	require.ErrorIs(t, err, domain.ErrResourceExhausted)
}

func TestAddSourceDuplicateName(t *testing.T) {
	agg, _, _ := newTestAggregator(t)

	require.NoError(t, agg.AddSource(NewStaticSource("binance"), 0))
	err := agg.AddSource(NewStaticSource("binance"), 0)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestConsensusWeightedPrice(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.AddSource(feed("a", "BTC", 100, 6000, clk.now), 3000))
	require.NoError(t, agg.AddSource(feed("b", "BTC", 200, 8000, clk.now), 2500))

	snap, err := agg.Consensus(ctx, "BTC")
	require.NoError(t, err)

	// (100*3000 + 200*2500) / 5500, floored.
	assert.Equal(t, uint64(145), snap.Price)
	assert.Equal(t, uint64(8000), snap.ConfidenceBps) // max over responders
	assert.Equal(t, uint64(10_000), snap.ConsensusBps)
	assert.Equal(t, 2, snap.Responding)
	assert.Equal(t, 2, snap.TotalSources)
}

func TestConsensusScorePartialResponders(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.AddSource(feed("a", "BTC", 100, 6000, clk.now), 0))
	require.NoError(t, agg.AddSource(feed("b", "BTC", 100, 6000, clk.now), 0))
	require.NoError(t, agg.AddSource(NewStaticSource("c"), 0)) // no reading
	require.NoError(t, agg.AddSource(NewStaticSource("d"), 0)) // no reading

	snap, err := agg.Consensus(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), snap.ConsensusBps)
	assert.Equal(t, 2, snap.Responding)
	assert.Equal(t, 4, snap.TotalSources)
}

func TestConsensusDropsStaleReadings(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	ctx := context.Background()

	stale := feed("a", "BTC", 100, 6000, clk.now.Add(-301*time.Second))
	require.NoError(t, agg.AddSource(stale, 0))

	_, err := agg.Consensus(ctx, "BTC")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// A fresh reading from the same source responds again.
	stale.Set(domain.SourceReading{Symbol: "BTC", Price: 100, ConfidenceBps: 6000, Timestamp: clk.now})
	snap, err := agg.Consensus(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Responding)
}

func TestConsensusNoSources(t *testing.T) {
	agg, _, _ := newTestAggregator(t)
	_, err := agg.Consensus(context.Background(), "BTC")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsensusDeviation(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.AddSource(feed("a", "BTC", 90, 6000, clk.now), 5000))
	require.NoError(t, agg.AddSource(feed("b", "BTC", 110, 6000, clk.now), 5000))

	snap, err := agg.Consensus(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), snap.Price)
	// Population stddev 10 on an aggregate of 100 is 1000 bps.
	assert.Equal(t, uint64(1000), snap.DeviationBps)
}

func TestConsensusZeroDeviationOnAgreement(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.AddSource(feed("a", "BTC", 500, 6000, clk.now), 0))
	require.NoError(t, agg.AddSource(feed("b", "BTC", 500, 6000, clk.now), 0))

	snap, err := agg.Consensus(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.DeviationBps)
}

func TestConsensusDerivedScoresBounded(t *testing.T) {
	agg, _, clk := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.AddSource(feed("a", "BTC", 1, 10_000, clk.now), 0))
	require.NoError(t, agg.AddSource(feed("b", "BTC", 100_000, 0, clk.now), 0))

	snap, err := agg.Consensus(ctx, "BTC")
	require.NoError(t, err)
	for name, v := range map[string]uint64{
		"sentiment":  snap.SentimentBps,
		"volatility": snap.VolatilityBps,
		"risk":       snap.RiskBps,
	} {
		assert.LessOrEqual(t, v, uint64(domain.BpsScale), name)
	}
}

func TestConsensusWritesCache(t *testing.T) {
	agg, cache, clk := newTestAggregator(t)
	ctx := context.Background()

	require.NoError(t, agg.AddSource(feed("a", "BTC", 100, 6000, clk.now), 0))
	snap, err := agg.Consensus(ctx, "BTC")
	require.NoError(t, err)

	require.Len(t, cache.snaps, 1)
	assert.Equal(t, snap, cache.snaps[0])
}

func TestDeriveFormulas(t *testing.T) {
	// Full confidence and agreement lean bullish; scatter pulls back.
	assert.Equal(t, uint64(8250), deriveSentiment(9000, 10_000, 0))
	assert.Equal(t, uint64(0), deriveVolatility(10_000, 0))
	assert.Equal(t, uint64(10_000), deriveVolatility(0, 6000))
	assert.Equal(t, uint64(0), deriveRisk(10_000, 10_000, 0))
}
