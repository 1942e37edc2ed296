// Package feed contains the long-running loops that move external price
// data into the oracle layer and oracle consensus into the marketplaces.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
	"github.com/kamalbuilds/aptos-markets/internal/platform/pricefeed"
)

// WSPriceFeed connects to a streaming price provider, subscribes to the
// configured symbols, and writes every reading into the source price cache.
// Readings are also published on the "prices" bus channel for observers.
// It reconnects on disconnect.
type WSPriceFeed struct {
	source    string
	wsURL     string
	symbols   []string
	cache     domain.SourcePriceCache
	bus       domain.SignalBus
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSPriceFeed creates a feed that subscribes to the given symbols. The
// bus may be nil when pub/sub fan-out is not wanted.
func NewWSPriceFeed(source, wsURL string, symbols []string, cache domain.SourcePriceCache, bus domain.SignalBus, logger *slog.Logger) *WSPriceFeed {
	return &WSPriceFeed{
		source:  source,
		wsURL:   wsURL,
		symbols: symbols,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "price_feed"), slog.String("source", source)),
		done:    make(chan struct{}),
	}
}

// Run connects, subscribes to the configured symbols, and runs until ctx is
// cancelled. Reconnects with backoff on disconnect.
func (f *WSPriceFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := f.runConnection(connCtx, ctx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("price feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *WSPriceFeed) runConnection(connCtx, runCtx context.Context) error {
	client := pricefeed.NewWSClient(f.source, f.wsURL)
	defer client.Close()

	client.OnTick(func(reading domain.SourceReading) {
		f.handleReading(context.Background(), reading)
	})

	if err := client.Connect(connCtx); err != nil {
		return err
	}
	if err := client.Subscribe(connCtx, f.symbols); err != nil {
		return err
	}
	f.logger.Info("price feed subscribed", slog.Int("symbols", len(f.symbols)))

	<-runCtx.Done()
	return runCtx.Err()
}

func (f *WSPriceFeed) handleReading(ctx context.Context, reading domain.SourceReading) {
	if err := f.cache.Set(ctx, reading); err != nil {
		f.logger.Warn("cache reading failed",
			slog.String("symbol", reading.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(reading)
	if err != nil {
		return
	}
	if err := f.bus.Publish(ctx, "prices", payload); err != nil {
		f.logger.Debug("publish reading failed",
			slog.String("symbol", reading.Symbol),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops the feed.
func (f *WSPriceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
