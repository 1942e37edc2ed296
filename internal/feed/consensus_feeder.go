package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// ConsensusProvider computes a fresh consensus snapshot for a symbol.
// *oracle.Aggregator satisfies this.
type ConsensusProvider interface {
	Consensus(ctx context.Context, symbol string) (domain.ConsensusSnapshot, error)
}

// SignalSink receives sentiment signals derived from oracle consensus.
// *market.Marketplace satisfies this.
type SignalSink interface {
	Asset() string
	OracleFeed() string
	BroadcastSignal(ctx context.Context, sentimentBps, confidenceBps uint64) int
}

// ConsensusFeeder periodically recomputes oracle consensus for each
// configured symbol, publishes the snapshot on the "consensus" bus channel,
// and pushes the derived sentiment into every marketplace priced against
// that symbol.
type ConsensusFeeder struct {
	provider ConsensusProvider
	sinks    []SignalSink
	symbols  []string
	interval time.Duration
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewConsensusFeeder creates a ConsensusFeeder. The bus may be nil when
// pub/sub fan-out is not wanted.
func NewConsensusFeeder(provider ConsensusProvider, sinks []SignalSink, symbols []string, interval time.Duration, bus domain.SignalBus, logger *slog.Logger) *ConsensusFeeder {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ConsensusFeeder{
		provider: provider,
		sinks:    sinks,
		symbols:  symbols,
		interval: interval,
		bus:      bus,
		logger:   logger.With(slog.String("component", "consensus_feeder")),
	}
}

// Run recomputes consensus on a fixed interval until ctx is cancelled.
func (f *ConsensusFeeder) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols configured, exiting")
		return nil
	}

	f.logger.Info("consensus feeder started",
		slog.Int("symbols", len(f.symbols)),
		slog.Duration("interval", f.interval),
	)
	defer f.logger.Info("consensus feeder stopped")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	// Prime once at startup so marketplaces do not wait a full interval.
	f.refreshAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.refreshAll(ctx)
		}
	}
}

func (f *ConsensusFeeder) refreshAll(ctx context.Context) {
	for _, symbol := range f.symbols {
		if ctx.Err() != nil {
			return
		}
		f.refresh(ctx, symbol)
	}
}

func (f *ConsensusFeeder) refresh(ctx context.Context, symbol string) {
	snap, err := f.provider.Consensus(ctx, symbol)
	if err != nil {
		f.logger.Warn("consensus refresh failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if f.bus != nil {
		if payload, err := json.Marshal(snap); err == nil {
			if err := f.bus.Publish(ctx, "consensus", payload); err != nil {
				f.logger.Debug("publish consensus failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	for _, sink := range f.sinks {
		if sink.OracleFeed() != symbol {
			continue
		}
		applied := sink.BroadcastSignal(ctx, snap.SentimentBps, snap.ConfidenceBps)
		f.logger.Debug("signal broadcast",
			slog.String("symbol", symbol),
			slog.String("asset", sink.Asset()),
			slog.Int("markets", applied),
			slog.Uint64("sentiment_bps", snap.SentimentBps),
		)
	}
}
