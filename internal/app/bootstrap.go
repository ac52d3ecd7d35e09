// Package app orchestrates startup: config, storage, ledger restore, and
// the wiring between the pipeline, risk, and quarantine layers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"amarktai_core/internal/api"
	"amarktai_core/internal/bot"
	"amarktai_core/internal/domain"
	"amarktai_core/internal/event"
	"amarktai_core/internal/exchange"
	"amarktai_core/internal/infra"
	"amarktai_core/internal/ledger"
	"amarktai_core/internal/marketdata"
	"amarktai_core/internal/obs"
	"amarktai_core/internal/pipeline"
	"amarktai_core/internal/quarantine"
	"amarktai_core/internal/risk"
	"amarktai_core/internal/sim"
	"amarktai_core/internal/storage"
	"amarktai_core/pkg/quant"

	"github.com/prometheus/client_golang/prometheus"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config     *infra.Config
	Store      *storage.LedgerStore
	Registry   *bot.Registry
	Engine     *ledger.Engine
	Breakers   *risk.Set
	Quarantine *quarantine.Manager
	Pipeline   *pipeline.Pipeline
	API        *api.Server
	Bus        *event.Bus
	Metrics    *obs.Metrics
	PriceCache *marketdata.Cache

	feeds  []*marketdata.Feed
	unlock func()
}

// NewBootstrap creates an empty Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, workspace,
// single-instance lock, store, and the full component graph.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping Amarktai Core...")

	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))

	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data")
	if err := infra.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// Single-writer WAL database: a second process is corruption, not
	// redundancy.
	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return err
	}
	b.unlock = unlock

	dbPath := filepath.Join(dataDir, "ledger.db")
	store, err := storage.NewLedgerStore(dbPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ LedgerStore initialized (WAL-mode)", "path", dbPath)

	b.Bus = event.NewBus()
	b.Metrics = obs.NewMetrics(prometheus.DefaultRegisterer)
	b.Registry = bot.NewRegistry(store)
	b.Engine = ledger.NewEngine(store)
	b.Breakers = risk.NewSet(cfg.Breaker, store, b.Bus)
	b.PriceCache = marketdata.NewCache()

	if err := b.Registry.Load(ctx); err != nil {
		return err
	}
	if err := b.restoreLedger(ctx); err != nil {
		return err
	}

	simulator := sim.NewSimulator(b.simulatorConfig(), b.PriceCache, b.Engine.OpenPosition, b.capitalLookup)
	factory := exchange.NewFactory(simulator)

	b.Quarantine = quarantine.NewManager(cfg.QuarantineConfig(), b.Registry, b.Engine, store, b.Breakers, b.Bus, b.Metrics)
	b.Pipeline = pipeline.New(cfg.PipelineConfig(), b.Registry, b.Engine, store, factory,
		b.Breakers, cfg.FeeSchedule(), b.Bus, b.Metrics, b.Quarantine.OnTrip)
	b.API = api.NewServer(b.Pipeline, b.Engine, b.Registry, b.Breakers, b.Quarantine, store, cfg.Server.AdminToken)

	return nil
}

// restoreLedger replays every registered bot's history so in-memory
// equity matches the append-only log before the first order arrives.
func (b *Bootstrap) restoreLedger(ctx context.Context) error {
	start := time.Now()
	bots := b.Registry.List()
	for _, bt := range bots {
		loc, err := bt.Location()
		if err != nil {
			loc = time.UTC
		}
		b.Engine.RegisterBot(bt.ID, loc)
		if err := b.Engine.Restore(ctx, bt.ID); err != nil {
			return fmt.Errorf("ledger restore for bot %s: %w", bt.ID, err)
		}
		eq := b.Engine.Equity(bt.ID)
		b.Metrics.Equity.WithLabelValues(bt.ID).Set(float64(eq.EquityMicros))
		b.Metrics.DrawdownBps.WithLabelValues(bt.ID).Set(float64(eq.DrawdownBps))
	}
	slog.Info("✅ Ledger restored",
		slog.Int("bots", len(bots)),
		slog.Duration("took", time.Since(start)))
	return nil
}

// StartFeeds connects one websocket feed per configured exchange.
// Paper trading against live public prices is the default posture, so a
// feed failure reconnects with backoff rather than halting the core.
func (b *Bootstrap) StartFeeds(ctx context.Context) {
	for name, ex := range b.Config.Exchanges {
		if ex.WSURL == "" || len(ex.Symbols) == 0 {
			continue
		}
		// Public streams carry demo-grade provenance; fills made against
		// them are never presented as account-verified performance.
		feed := marketdata.NewFeed(ex.WSURL, ex.Symbols, b.PriceCache, domain.ProvenanceDemo)
		feed.Start(ctx)
		b.feeds = append(b.feeds, feed)
		slog.Info("✅ Market data feed started",
			slog.String("exchange", name),
			slog.Int("symbols", len(ex.Symbols)))
	}
}

// StartQuarantineScanner runs the resume loop until ctx cancels.
func (b *Bootstrap) StartQuarantineScanner(ctx context.Context) {
	go b.Quarantine.Run(ctx)
}

// Close releases the store, feeds, and the instance lock.
func (b *Bootstrap) Close() {
	for _, f := range b.feeds {
		f.Stop()
	}
	if b.Bus != nil {
		b.Bus.Close()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Error("Store close failed", slog.Any("error", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
}

// simulatorConfig assembles the simulator settings from the per-exchange
// config sections, converting human units to fixed point.
func (b *Bootstrap) simulatorConfig() sim.Config {
	cfg := b.Config
	out := sim.DefaultConfig()
	out.FailureRate = cfg.Simulator.FailureRate
	out.DelayDriftBps = cfg.Simulator.DelayDriftBps
	out.MaxTradeLossBps = cfg.Simulator.MaxTradeLossBps
	out.Seed = cfg.Simulator.Seed

	for name, ex := range cfg.Exchanges {
		out.Fees[name] = sim.FeeTable{
			MakerBps:      ex.Fees.MakerBps,
			TakerBps:      ex.Fees.TakerBps,
			QuoteCurrency: ex.Fees.QuoteCurrency,
		}
		for sym, r := range ex.SymbolRules {
			out.Rules[sim.RuleKey(name, sym)] = r.ToDomain()
		}
		for sym, vol := range ex.DailyVolumes {
			out.DailyVolumes[sym] = int64(vol * quant.PriceScale)
		}
	}
	return out
}

// capitalLookup feeds the simulator's P&L sanity check.
func (b *Bootstrap) capitalLookup(botID string) int64 {
	bt, err := b.Registry.Get(botID)
	if err != nil {
		return 0
	}
	return bt.InitialCapitalMicros
}
