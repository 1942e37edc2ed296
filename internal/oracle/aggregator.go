// Package oracle aggregates price observations from up to four weighted
// sources into a consensus snapshot: weighted price, confidence,
// consensus score, price deviation, and derived market heuristics.
// Snapshots are ephemeral and recomputed per query; a cache keeps the
// latest one around for observers only.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

const (
	// MaxSources bounds the aggregation fan-out.
	MaxSources = 4
	// MaxStaleness is how old a source reading may be and still count.
	MaxStaleness = 300 * time.Second
)

// DefaultWeights are the bps weights assigned to sources in registration
// order when the caller does not choose its own.
var DefaultWeights = []uint64{3000, 2500, 2500, 2000}

type weightedSource struct {
	src       Source
	weightBps uint64
}

// Aggregator fans a consensus query out over its registered sources.
type Aggregator struct {
	mu      sync.RWMutex
	sources []weightedSource

	cache  domain.ConsensusCache
	clock  func() time.Time
	logger *slog.Logger
}

// NewAggregator creates an aggregator with no sources. cache may be nil.
func NewAggregator(cache domain.ConsensusCache, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		cache:  cache,
		clock:  time.Now,
		logger: logger.With(slog.String("component", "oracle")),
	}
}

// SetClock overrides the aggregator clock. Intended for tests.
func (a *Aggregator) SetClock(clock func() time.Time) { a.clock = clock }

// AddSource registers a source. A zero weight picks the next default
// weight; at most MaxSources sources, unique by name.
func (a *Aggregator) AddSource(src Source, weightBps uint64) error {
	if src == nil || src.Name() == "" {
		return fmt.Errorf("oracle: nil source: %w", domain.ErrInvalidArgument)
	}
	if weightBps > domain.BpsScale {
		return fmt.Errorf("oracle: weight %d over scale: %w", weightBps, domain.ErrInvalidArgument)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.sources) >= MaxSources {
		return fmt.Errorf("oracle: source limit %d reached: %w", MaxSources, domain.ErrResourceExhausted)
	}
	for _, ws := range a.sources {
		if ws.src.Name() == src.Name() {
			return fmt.Errorf("oracle: source %s: %w", src.Name(), domain.ErrAlreadyExists)
		}
	}
	if weightBps == 0 {
		weightBps = DefaultWeights[len(a.sources)]
	}
	a.sources = append(a.sources, weightedSource{src: src, weightBps: weightBps})
	return nil
}

// Consensus queries every source for a symbol, drops failed and stale
// readings, and folds the rest into one snapshot. Zero responders yield
// ErrNotFound.
func (a *Aggregator) Consensus(ctx context.Context, symbol string) (domain.ConsensusSnapshot, error) {
	if symbol == "" {
		return domain.ConsensusSnapshot{}, fmt.Errorf("oracle: empty symbol: %w", domain.ErrInvalidArgument)
	}

	a.mu.RLock()
	sources := make([]weightedSource, len(a.sources))
	copy(sources, a.sources)
	a.mu.RUnlock()

	now := a.clock()
	var (
		prices     []uint64
		priceSum   uint64
		weightSum  uint64
		confidence uint64
	)
	for _, ws := range sources {
		r, err := ws.src.Read(ctx, symbol)
		if err != nil {
			a.logger.DebugContext(ctx, "source skipped",
				slog.String("source", ws.src.Name()),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if now.Sub(r.Timestamp) > MaxStaleness {
			a.logger.DebugContext(ctx, "source reading stale",
				slog.String("source", ws.src.Name()),
				slog.String("symbol", symbol),
			)
			continue
		}

		prices = append(prices, r.Price)
		priceSum += r.Price * ws.weightBps
		weightSum += ws.weightBps
		if r.ConfidenceBps > confidence {
			confidence = r.ConfidenceBps
		}
	}

	if len(prices) == 0 {
		return domain.ConsensusSnapshot{}, fmt.Errorf("oracle: no responding source for %s: %w", symbol, domain.ErrNotFound)
	}

	aggregate := priceSum / weightSum
	consensus := uint64(len(prices)) * domain.BpsScale / uint64(len(sources))
	deviation := deviationBps(prices, aggregate)
	if confidence > domain.BpsScale {
		confidence = domain.BpsScale
	}

	snap := domain.ConsensusSnapshot{
		Symbol:        symbol,
		Price:         aggregate,
		ConfidenceBps: confidence,
		ConsensusBps:  consensus,
		DeviationBps:  deviation,
		SentimentBps:  deriveSentiment(confidence, consensus, deviation),
		VolatilityBps: deriveVolatility(consensus, deviation),
		RiskBps:       deriveRisk(confidence, consensus, deviation),
		Responding:    len(prices),
		TotalSources:  len(sources),
		ComputedAt:    now,
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, snap); err != nil {
			a.logger.WarnContext(ctx, "consensus cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// deviationBps is the population standard deviation of responder prices
// around the aggregate, expressed in bps of the aggregate and capped at
// the scale.
func deviationBps(prices []uint64, aggregate uint64) uint64 {
	if aggregate == 0 || len(prices) < 2 {
		return 0
	}

	var variance float64
	for _, p := range prices {
		diff := float64(p) - float64(aggregate)
		variance += diff * diff
	}
	variance /= float64(len(prices))

	dev := math.Sqrt(variance) * domain.BpsScale / float64(aggregate)
	if dev > domain.BpsScale {
		return domain.BpsScale
	}
	return uint64(dev)
}
