package storage

import (
	"context"
	"path/filepath"
	"testing"

	"amarktai_core/internal/domain"
	"amarktai_core/pkg/quant"
)

func newTestStore(t *testing.T) *LedgerStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	store, err := NewLedgerStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testFill(id, key string, ts int64) *domain.Fill {
	return &domain.Fill{
		ID:             id,
		BotID:          "bot-1",
		UserID:         "user-1",
		Exchange:       "binance",
		Symbol:         "BTCUSDT",
		Side:           domain.SideBuy,
		QtySats:        quant.ToQtySats(0.5),
		PriceMicros:    quant.ToPriceMicros(40_000),
		FeeMicros:      20_000_000,
		FeeCurrency:    "USDT",
		NotionalMicros: 20_000_000_000,
		Ts:             quant.TimeStamp(ts),
		Source:         domain.SourcePaper,
		Provenance:     domain.ProvenanceDemo,
		IdempotencyKey: key,
	}
}

func TestLedgerStore_AppendAndLoadFills(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Insert out of timestamp order; replay order must come back sorted.
	if err := store.AppendFill(ctx, testFill("f-2", "k-2", 2_000)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.AppendFill(ctx, testFill("f-1", "k-1", 1_000)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	fills, err := store.LoadFills(ctx, "bot-1", 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	if fills[0].ID != "f-1" || fills[1].ID != "f-2" {
		t.Errorf("canonical order violated: %s, %s", fills[0].ID, fills[1].ID)
	}

	// asOf bound excludes the later fill
	fills, err = store.LoadFills(ctx, "bot-1", 1_500)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(fills) != 1 {
		t.Errorf("expected 1 fill up to ts 1500, got %d", len(fills))
	}
}

func TestLedgerStore_DuplicateIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendFill(ctx, testFill("f-1", "same-key", 1_000)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	err := store.AppendFill(ctx, testFill("f-2", "same-key", 2_000))
	if err != ErrDuplicateFill {
		t.Errorf("expected ErrDuplicateFill, got %v", err)
	}

	prior, err := store.FillByIdemKey(ctx, "same-key")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if prior == nil || prior.ID != "f-1" {
		t.Errorf("expected original fill f-1, got %+v", prior)
	}
}

func TestLedgerStore_RejectsInvalidFill(t *testing.T) {
	store := newTestStore(t)
	bad := testFill("f-1", "k-1", 1_000)
	bad.QtySats = 0
	if err := store.AppendFill(context.Background(), bad); err == nil {
		t.Error("expected validation error")
	}
}

func TestLedgerStore_EventsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := &domain.LedgerEvent{
		ID:           "e-1",
		BotID:        "bot-1",
		Kind:         domain.EventFunding,
		AmountMicros: 1_000_000_000, // 1000 USD
		Currency:     "USDT",
		Ts:           quant.TimeStamp(1_000),
		Reason:       "initial capital",
	}
	if err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("append event failed: %v", err)
	}

	events, err := store.LoadEvents(ctx, "bot-1", 0)
	if err != nil {
		t.Fatalf("load events failed: %v", err)
	}
	if len(events) != 1 || events[0].AmountMicros != 1_000_000_000 {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestLedgerStore_BotTombstoneKeepsFills(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bot := &domain.Bot{
		ID: "bot-1", UserID: "user-1", Exchange: "binance", Symbol: "BTCUSDT",
		Mode: domain.ModePaper, InitialCapitalMicros: 1_000_000_000,
	}
	if err := store.UpsertBot(ctx, bot); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.AppendFill(ctx, testFill("f-1", "k-1", 1_000)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := store.MarkBotDeleted(ctx, "bot-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	bots, err := store.LoadBots(ctx)
	if err != nil {
		t.Fatalf("load bots failed: %v", err)
	}
	if len(bots) != 0 {
		t.Errorf("deleted bot still listed: %+v", bots)
	}

	// Ledger stays auditable after deletion
	fills, err := store.LoadFills(ctx, "bot-1", 0)
	if err != nil {
		t.Fatalf("load fills failed: %v", err)
	}
	if len(fills) != 1 {
		t.Errorf("expected deleted bot's fills to remain, got %d", len(fills))
	}
}

func TestLedgerStore_TripAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &domain.TripRecord{
		BotID:  "bot-1",
		Action: "trip",
		Reason: domain.TripMaxDrawdown,
		Ts:     quant.TimeStamp(5_000),
		Snapshot: domain.EquityState{
			BotID: "bot-1", EquityMicros: 780_000_000, PeakEquityMicros: 1_000_000_000,
		},
	}
	if err := store.AppendTrip(ctx, rec); err != nil {
		t.Fatalf("append trip failed: %v", err)
	}

	trips, err := store.LoadTrips(ctx, "bot-1", 10)
	if err != nil {
		t.Fatalf("load trips failed: %v", err)
	}
	if len(trips) != 1 || trips[0].Reason != domain.TripMaxDrawdown {
		t.Errorf("unexpected trips: %+v", trips)
	}
	if trips[0].Snapshot.EquityMicros != 780_000_000 {
		t.Errorf("snapshot not preserved: %+v", trips[0].Snapshot)
	}
}
