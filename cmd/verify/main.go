// Command verify recomputes every bot's equity from the append-only log
// and compares it against the incrementally restored state. Any mismatch
// means the ledger fold is not deterministic and must be treated as a
// release blocker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"amarktai_core/internal/bot"
	"amarktai_core/internal/domain"
	"amarktai_core/internal/infra"
	"amarktai_core/internal/ledger"
	"amarktai_core/internal/storage"
)

func main() {
	dbPath := flag.String("db", "", "path to ledger.db (default: workspace data dir)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	path := *dbPath
	if path == "" {
		path = filepath.Join(infra.GetWorkspaceDir(), "data", "ledger.db")
	}

	store, err := storage.NewLedgerStore(path)
	if err != nil {
		slog.Error("Failed to open ledger", slog.String("path", path), slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	registry := bot.NewRegistry(store)
	if err := registry.Load(ctx); err != nil {
		slog.Error("Failed to load bots", slog.Any("error", err))
		os.Exit(1)
	}

	engine := ledger.NewEngine(store)
	failures := 0
	for _, b := range registry.List() {
		loc, err := b.Location()
		if err != nil {
			slog.Warn("Invalid timezone, using UTC", slog.String("bot_id", b.ID))
			loc = time.UTC
		}
		engine.RegisterBot(b.ID, loc)

		if err := engine.Restore(ctx, b.ID); err != nil {
			slog.Error("Restore failed", slog.String("bot_id", b.ID), slog.Any("error", err))
			failures++
			continue
		}
		incremental := engine.Equity(b.ID)

		replayed, err := engine.ComputeEquity(ctx, b.ID, 0)
		if err != nil {
			slog.Error("Replay failed", slog.String("bot_id", b.ID), slog.Any("error", err))
			failures++
			continue
		}

		if diff := compare(incremental, replayed); diff != "" {
			slog.Error("❌ DETERMINISM VIOLATION",
				slog.String("bot_id", b.ID),
				slog.String("field", diff),
				slog.Int64("incremental", fieldValue(incremental, diff)),
				slog.Int64("replayed", fieldValue(replayed, diff)))
			failures++
			continue
		}
		slog.Info("✅ Ledger verified",
			slog.String("bot_id", b.ID),
			slog.Int64("equity", incremental.EquityMicros),
			slog.Int64("trades", incremental.TradeCount))
	}

	if failures > 0 {
		slog.Error(fmt.Sprintf("Verification failed for %d bot(s)", failures))
		os.Exit(1)
	}
	slog.Info("✨ All ledgers deterministic")
}

// compare returns the name of the first differing field, or "".
func compare(a, b domain.EquityState) string {
	switch {
	case a.EquityMicros != b.EquityMicros:
		return "equity"
	case a.RealizedPnLMicros != b.RealizedPnLMicros:
		return "realized_pnl"
	case a.FeesTotalMicros != b.FeesTotalMicros:
		return "fees_total"
	case a.FundingMicros != b.FundingMicros:
		return "funding"
	case a.PeakEquityMicros != b.PeakEquityMicros:
		return "peak_equity"
	case a.TradeCount != b.TradeCount:
		return "trade_count"
	}
	return ""
}

func fieldValue(eq domain.EquityState, field string) int64 {
	switch field {
	case "equity":
		return eq.EquityMicros
	case "realized_pnl":
		return eq.RealizedPnLMicros
	case "fees_total":
		return eq.FeesTotalMicros
	case "funding":
		return eq.FundingMicros
	case "peak_equity":
		return eq.PeakEquityMicros
	case "trade_count":
		return eq.TradeCount
	}
	return 0
}
