package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamalbuilds/aptos-markets/internal/asset"
	"github.com/kamalbuilds/aptos-markets/internal/config"
	"github.com/kamalbuilds/aptos-markets/internal/crypto"
	"github.com/kamalbuilds/aptos-markets/internal/engine/market"
	"github.com/kamalbuilds/aptos-markets/internal/engine/risk"
	"github.com/kamalbuilds/aptos-markets/internal/feed"
	"github.com/kamalbuilds/aptos-markets/internal/notify"
	"github.com/kamalbuilds/aptos-markets/internal/oracle"
	"github.com/kamalbuilds/aptos-markets/internal/platform/pricefeed"
	"github.com/kamalbuilds/aptos-markets/internal/registry"
	"github.com/kamalbuilds/aptos-markets/internal/server"
	"github.com/kamalbuilds/aptos-markets/internal/server/handler"
	"github.com/kamalbuilds/aptos-markets/internal/server/ws"
)

// sweepInterval is how often expired markets are swept into cancellation
// or governance close.
const sweepInterval = time.Minute

// archiveLockTTL bounds how long one replica may hold the archive lock.
const archiveLockTTL = 10 * time.Minute

// marketSweeper is the slice of marketplace behavior the expiry sweep
// loop needs.
type marketSweeper interface {
	Asset() string
	SweepExpired(ctx context.Context, now time.Time) int
}

// engineStack is the assembled in-memory engine: registry, per-asset
// marketplaces, and per-asset risk engines, exposed through the narrow
// interfaces the handlers and feeders consume.
type engineStack struct {
	registry     *registry.Registry
	riskRegistry *risk.Registry
	places       map[string]handler.Marketplace
	governed     map[string]handler.GovernedMarketplace
	riskEngines  map[string]handler.RiskService
	sinks        []feed.SignalSink
	sweepers     []marketSweeper
}

// ServeMode runs the marketplace engine behind the HTTP API without the
// external price feeds. Consensus queries still work through REST and
// cache-backed oracle sources.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	st, err := a.buildEngines(deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}
	agg, err := a.buildAggregator(deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	a.startSweepLoop(ctx, g, st)
	a.startInsightConsumer(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, st, agg)

	return g.Wait()
}

// OracleMode runs only the price feeds and the consensus recomputation
// loop. Useful for dedicated oracle replicas.
func (a *App) OracleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting oracle mode")

	g, ctx := errgroup.WithContext(ctx)

	agg, err := a.buildAggregator(deps)
	if err != nil {
		return fmt.Errorf("oracle mode: %w", err)
	}

	a.startPriceFeeds(ctx, g, deps)

	feeder := feed.NewConsensusFeeder(agg, nil, a.cfg.Oracle.Symbols,
		a.cfg.Oracle.RefreshInterval.Duration, deps.SignalBus, a.logger)
	g.Go(func() error {
		return feeder.Run(ctx)
	})

	return g.Wait()
}

// ArchiveMode runs only the cold-storage archival loop.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (enable archive and S3 config)")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// FullMode starts every subsystem: the engine, price feeds, consensus
// feeder, HTTP API, archival, and notifications.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	st, err := a.buildEngines(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	agg, err := a.buildAggregator(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	a.startPriceFeeds(ctx, g, deps)

	feeder := feed.NewConsensusFeeder(agg, st.sinks, a.cfg.Oracle.Symbols,
		a.cfg.Oracle.RefreshInterval.Duration, deps.SignalBus, a.logger)
	g.Go(func() error {
		return feeder.Run(ctx)
	})

	a.startSweepLoop(ctx, g, st)
	a.startInsightConsumer(ctx, g, deps)

	if deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, st, agg)
	}

	return g.Wait()
}

// buildEngines constructs the registry, one risk engine and marketplace
// per configured asset, and the interface views the rest of the app
// consumes. Assets are built in sorted order so registration is
// deterministic.
func (a *App) buildEngines(deps *Dependencies) (*engineStack, error) {
	reg, wcap := registry.New()

	st := &engineStack{
		registry:     reg,
		riskRegistry: risk.NewRegistry(),
		places:       make(map[string]handler.Marketplace),
		governed:     make(map[string]handler.GovernedMarketplace),
		riskEngines:  make(map[string]handler.RiskService),
	}

	symbols := make([]string, 0, len(a.cfg.Marketplace))
	for sym := range a.cfg.Marketplace {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		mc := a.cfg.Marketplace[sym]
		var err error
		switch sym {
		case "APT":
			err = addMarketplace[asset.APT](a, st, wcap, mc, deps)
		case "USDC":
			err = addMarketplace[asset.USDC](a, st, wcap, mc, deps)
		default:
			a.logger.Warn("skipping marketplace for unsupported asset",
				slog.String("asset", sym),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("build %s marketplace: %w", sym, err)
		}
	}

	if len(st.places) == 0 {
		return nil, fmt.Errorf("no marketplace could be built from configuration")
	}
	return st, nil
}

// addMarketplace builds the risk engine and marketplace for one asset and
// registers the views in the stack.
func addMarketplace[A asset.Asset](a *App, st *engineStack, wcap registry.WriteCap, mc config.MarketConfig, deps *Dependencies) error {
	var sym A

	eng := risk.NewEngine(sym.Symbol(), risk.Config{
		MaxPositionSize:     a.cfg.Risk.MaxPositionSize,
		NormalHoursStartUTC: a.cfg.Risk.NormalHoursStartUTC,
		NormalHoursEndUTC:   a.cfg.Risk.NormalHoursEndUTC,
	}, st.riskRegistry, risk.Stores{
		Profiles: deps.RiskStore,
		Reports:  deps.FraudStore,
	}, a.logger)

	mp, err := market.NewMarketplace[A](market.Config{
		Name:             mc.Name,
		FeeRateBps:       mc.FeeRateBps,
		CreatorFeeBps:    mc.CreatorFeeBps,
		MinBet:           mc.MinBet,
		OracleFeed:       mc.OracleFeed,
		DailyVolumeLimit: mc.DailyVolumeLimit,
		SignalEnabled:    mc.SignalEnabled,
	}, eng, st.registry, wcap, market.Stores{
		Markets: deps.MarketStore,
		History: deps.HistoryStore,
	}, deps.SignalBus, a.logger)
	if err != nil {
		return err
	}

	st.places[sym.Symbol()] = mp
	st.governed[sym.Symbol()] = mp
	st.riskEngines[sym.Symbol()] = eng
	st.sinks = append(st.sinks, mp)
	st.sweepers = append(st.sweepers, mp)
	return nil
}

// buildAggregator registers one oracle source per configuration entry. A
// source with a rest_url is polled directly; every other source reads the
// latest reading a feed cached under its name.
func (a *App) buildAggregator(deps *Dependencies) (*oracle.Aggregator, error) {
	agg := oracle.NewAggregator(deps.Consensus, a.logger)

	for _, sc := range a.cfg.Oracle.Sources {
		var src oracle.Source
		if sc.RestURL != "" {
			src = pricefeed.NewRESTClient(sc.Name, sc.RestURL)
		} else {
			src = oracle.NewCacheSource(sc.Name, deps.SourcePrices)
		}
		if err := agg.AddSource(src, sc.WeightBps); err != nil {
			return nil, fmt.Errorf("oracle source %s: %w", sc.Name, err)
		}
	}
	return agg, nil
}

// startPriceFeeds launches one streaming feed per source with a ws_url.
func (a *App) startPriceFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	for _, sc := range a.cfg.Oracle.Sources {
		if sc.WsURL == "" {
			continue
		}
		pf := feed.NewWSPriceFeed(sc.Name, sc.WsURL, a.cfg.Oracle.Symbols,
			deps.SourcePrices, deps.SignalBus, a.logger)
		g.Go(func() error {
			defer pf.Close()
			return pf.Run(ctx)
		})
	}
}

// startSweepLoop periodically cancels or closes markets whose deadlines
// have passed.
func (a *App) startSweepLoop(ctx context.Context, g *errgroup.Group, st *engineStack) {
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				for _, sw := range st.sweepers {
					if n := sw.SweepExpired(ctx, now.UTC()); n > 0 {
						a.logger.InfoContext(ctx, "swept expired markets",
							slog.String("asset", sw.Asset()),
							slog.Int("count", n),
						)
					}
				}
			}
		}
	})
}

// startInsightConsumer forwards bus insights to the configured
// notification channels.
func (a *App) startInsightConsumer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil || !deps.Notifier.Enabled() {
		a.logger.InfoContext(ctx, "no notification channels configured, insight consumer disabled")
		return
	}
	consumer := notify.NewInsightConsumer(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
}

// startArchiveLoop periodically moves old settled records to cold
// storage. The distributed lock keeps archival single-flight across
// replicas.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
		defer ticker.Stop()

		a.archiveOnce(ctx, deps)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.archiveOnce(ctx, deps)
			}
		}
	})
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) {
	unlock, err := deps.LockManager.Acquire(ctx, "archive:run", archiveLockTTL)
	if err != nil {
		a.logger.DebugContext(ctx, "archive run skipped",
			slog.String("reason", err.Error()),
		)
		return
	}
	defer unlock()

	before := time.Now().UTC().Add(-a.cfg.Archive.Retention.Duration)

	type run struct {
		kind string
		fn   func(ctx context.Context, before time.Time) (string, int, error)
	}
	runs := []run{
		{"markets", deps.Archiver.ArchiveResolvedMarkets},
		{"prices", deps.Archiver.ArchivePriceHistory},
		{"audit", deps.Archiver.ArchiveAuditLog},
	}
	for _, r := range runs {
		key, count, err := r.fn(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive run failed",
				slog.String("kind", r.kind),
				slog.String("error", err.Error()),
			)
			continue
		}
		if count > 0 {
			a.logger.InfoContext(ctx, "archive run completed",
				slog.String("kind", r.kind),
				slog.String("key", key),
				slog.Int("records", count),
			)
		}
	}
}

// buildSigner loads the attestation signing key. Returns nil when no key
// is configured.
func (a *App) buildSigner() *crypto.Signer {
	if a.cfg.Attestation.PrivateKey == "" && a.cfg.Attestation.EncryptedKeyPath == "" {
		a.logger.Info("no attestation key configured, attestation endpoint disabled")
		return nil
	}
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Attestation.PrivateKey,
		EncryptedKeyPath: a.cfg.Attestation.EncryptedKeyPath,
		KeyPassword:      a.cfg.Attestation.KeyPassword,
	})
	if err != nil {
		a.logger.Warn("attestation signing disabled",
			slog.String("error", err.Error()),
		)
		return nil
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		a.logger.Warn("attestation signing disabled",
			slog.String("error", err.Error()),
		)
		return nil
	}
	a.logger.Info("attestation signer loaded",
		slog.String("address", signer.Address().Hex()),
	)
	return signer
}

// startHTTPServer wires the handlers and runs the API server plus the
// WebSocket hub until the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, st *engineStack, agg *oracle.Aggregator) {
	var attestor handler.Attestor
	if signer := a.buildSigner(); signer != nil {
		attestor = signer
	}
	var chain handler.ChainReader
	if deps.Indexer != nil {
		chain = deps.Indexer
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), st.registry),
		Markets:    handler.NewMarketHandler(st.registry, st.places, a.logger),
		Governance: handler.NewGovernanceHandler(st.governed, a.logger),
		Risk:       handler.NewRiskHandler(st.riskEngines, deps.FraudStore, a.logger),
		Oracle:     handler.NewOracleHandler(agg, deps.Consensus, attestor, a.logger),
		Accounts:   handler.NewAccountHandler(chain, a.logger),
		Admin:      handler.NewAdminHandler(st.riskRegistry, deps.Archiver, deps.AuditStore, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
