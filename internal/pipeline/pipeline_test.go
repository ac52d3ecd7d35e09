package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"amarktai_core/internal/bot"
	"amarktai_core/internal/domain"
	"amarktai_core/internal/exchange"
	"amarktai_core/internal/ledger"
	"amarktai_core/internal/risk"
	"amarktai_core/internal/storage"
	"amarktai_core/pkg/quant"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeAdapter fills every order at a fixed price, or fails with err.
// When prices is set, successive calls walk through it instead.
type fakeAdapter struct {
	mu     sync.Mutex
	calls  int
	err    error
	price  quant.PriceMicros
	prices []quant.PriceMicros
}

func (f *fakeAdapter) Execute(ctx context.Context, intent domain.OrderIntent) (*domain.Fill, error) {
	f.mu.Lock()
	f.calls++
	price := f.price
	if len(f.prices) > 0 {
		price = f.prices[(f.calls-1)%len(f.prices)]
	}
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	notional := quant.NotionalMicros(price, intent.QtySats)
	return &domain.Fill{
		ID:             uuid.NewString(),
		BotID:          intent.BotID,
		UserID:         intent.UserID,
		Exchange:       intent.Exchange,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		QtySats:        intent.QtySats,
		PriceMicros:    price,
		FeeMicros:      quant.ApplyBps(notional, 5),
		FeeCurrency:    "USDT",
		NotionalMicros: notional,
		Ts:             quant.Now(),
		Source:         domain.SourcePaper,
		Provenance:     domain.ProvenanceDemo,
		IdempotencyKey: intent.IdempotencyKey,
	}, nil
}

func (f *fakeAdapter) FetchPrice(ctx context.Context, symbol string) (quant.PriceMicros, error) {
	return f.price, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	pipeline *Pipeline
	store    *storage.LedgerStore
	registry *bot.Registry
	engine   *ledger.Engine
	breakers *risk.Set
	adapter  *fakeAdapter

	tripMu sync.Mutex
	trips  []domain.TripReason
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store, err := storage.NewLedgerStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := bot.NewRegistry(store)
	engine := ledger.NewEngine(store)
	breakers := risk.NewSet(risk.DefaultConfig(), store, nil)
	adapter := &fakeAdapter{price: quant.ToPriceMicros(100)}

	h := &harness{store: store, registry: registry, engine: engine, breakers: breakers, adapter: adapter}
	fees := func(string) (quant.Bps, bool) { return 5, true }
	onTrip := func(_ context.Context, _ string, reason domain.TripReason) {
		h.tripMu.Lock()
		h.trips = append(h.trips, reason)
		h.tripMu.Unlock()
	}
	h.pipeline = New(cfg, registry, engine, store, exchange.NewFactory(adapter),
		breakers, fees, nil, nil, onTrip)

	b := &domain.Bot{
		ID:                   "bot-1",
		UserID:               "user-1",
		Exchange:             "paperex",
		Symbol:               "BTCUSDT",
		Mode:                 domain.ModePaper,
		Strategy:             "grid",
		InitialCapitalMicros: 1000 * quant.PriceScale,
	}
	require.NoError(t, registry.Register(context.Background(), b))
	engine.RegisterBot("bot-1", time.UTC)
	return h
}

func intentWithKey(key string) domain.OrderIntent {
	return domain.OrderIntent{
		BotID:           "bot-1",
		UserID:          "user-1",
		Exchange:        "paperex",
		Symbol:          "BTCUSDT",
		Side:            domain.SideBuy,
		QtySats:         quant.ToQtySats(0.1),
		ExpectedEdgeBps: 30,
		IdempotencyKey:  key,
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	res := h.pipeline.Submit(context.Background(), intentWithKey("k1"))
	require.Equal(t, StatusFilled, res.Status)
	require.NotNil(t, res.Fill)

	// Durably recorded and applied to equity.
	stored, err := h.store.FillByIdemKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, res.Fill.ID, stored.ID)
	eq := h.engine.Equity("bot-1")
	require.Equal(t, int64(1), eq.TradeCount)

	pending, ok := h.pipeline.PendingStatus("k1")
	require.True(t, ok)
	require.Equal(t, domain.PendingFilled, pending.Status)
	require.Equal(t, res.Fill.ID, pending.FillID)
}

func TestPipeline_DuplicateKeyReturnsOriginalFill(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	first := h.pipeline.Submit(context.Background(), intentWithKey("k1"))
	require.Equal(t, StatusFilled, first.Status)

	second := h.pipeline.Submit(context.Background(), intentWithKey("k1"))
	require.Equal(t, StatusFilled, second.Status)
	require.Equal(t, ReasonDuplicateOrder, second.Reason)
	require.Equal(t, first.Fill.ID, second.Fill.ID)
	require.Equal(t, 1, h.adapter.callCount())
}

func TestPipeline_ConcurrentSameKeyExecutesOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pipeline.Submit(context.Background(), intentWithKey("k1"))
		}()
	}
	wg.Wait()
	require.Equal(t, 1, h.adapter.callCount())
	eq := h.engine.Equity("bot-1")
	require.Equal(t, int64(1), eq.TradeCount)
}

func TestPipeline_ConcurrentFillsKeepReplayConsistent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.BurstMax = 0
	h := newHarness(t, cfg)
	// Mixed sides at moving prices: the FIFO realized figures and the peak
	// equity both depend on apply order, so any fill reaching the fold out
	// of timestamp order shows up as a replay mismatch.
	h.adapter.prices = []quant.PriceMicros{
		quant.ToPriceMicros(100),
		quant.ToPriceMicros(200),
		quant.ToPriceMicros(150),
		quant.ToPriceMicros(90),
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		in := intentWithKey(uuid.NewString())
		if i%2 == 1 {
			in.Side = domain.SideSell
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pipeline.Submit(context.Background(), in)
		}()
	}
	wg.Wait()

	// Whatever subset filled, the incrementally maintained state and a
	// full (ts, id)-ordered replay of the recorded log must agree.
	incremental := h.engine.Equity("bot-1")
	require.Greater(t, incremental.TradeCount, int64(0))
	replayed, err := h.engine.ComputeEquity(context.Background(), "bot-1", 0)
	require.NoError(t, err)
	require.Equal(t, replayed, incremental)
}

func TestPipeline_FeeGateAdmitsEdgeAtFeeFloor(t *testing.T) {
	g := &feeGate{
		cfg:  FeeGateConfig{SlippageBufferBps: 0, SafetyMarginBps: 0},
		fees: func(string) (quant.Bps, bool) { return 10, true },
	}

	in := intentWithKey("k1")
	in.ExpectedEdgeBps = 15
	require.NoError(t, g.check(&in))
	in.ExpectedEdgeBps = 10 // break-even edge is still admitted
	require.NoError(t, g.check(&in))
	in.ExpectedEdgeBps = 9
	require.Error(t, g.check(&in))
}

func TestPipeline_FeeGateRejectsThinEdge(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	thin := intentWithKey("k1")
	thin.ExpectedEdgeBps = 10 // below 5+5+2 = 12 required
	res := h.pipeline.Submit(context.Background(), thin)
	require.Equal(t, StatusRejected, res.Status)
	require.Equal(t, ReasonInsufficientEdge, res.Reason)
	require.Equal(t, 0, h.adapter.callCount())
}

func TestPipeline_DailyBotLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxTradesPerBotDay = 2
	cfg.Limits.BurstMax = 0
	h := newHarness(t, cfg)

	require.Equal(t, StatusFilled, h.pipeline.Submit(context.Background(), intentWithKey("k1")).Status)
	require.Equal(t, StatusFilled, h.pipeline.Submit(context.Background(), intentWithKey("k2")).Status)

	res := h.pipeline.Submit(context.Background(), intentWithKey("k3"))
	require.Equal(t, StatusRejected, res.Status)
	require.Equal(t, ReasonLimitExceeded, res.Reason)
	require.Equal(t, 2, h.pipeline.DailyUsage("bot-1", time.UTC))
}

func TestPipeline_ExchangeBurstLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.BurstMax = 2
	cfg.Limits.BurstWindow = time.Minute
	h := newHarness(t, cfg)

	require.Equal(t, StatusFilled, h.pipeline.Submit(context.Background(), intentWithKey("k1")).Status)
	require.Equal(t, StatusFilled, h.pipeline.Submit(context.Background(), intentWithKey("k2")).Status)

	res := h.pipeline.Submit(context.Background(), intentWithKey("k3"))
	require.Equal(t, StatusRejected, res.Status)
	require.Equal(t, ReasonLimitExceeded, res.Reason)
}

func TestPipeline_BurstLimitUnderConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.BurstMax = 5
	cfg.Limits.BurstWindow = time.Minute
	h := newHarness(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		key := uuid.NewString()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pipeline.Submit(context.Background(), intentWithKey(key))
		}()
	}
	wg.Wait()
	// The reserve is atomic: never more executions than the burst allows.
	require.Equal(t, 5, h.adapter.callCount())
}

func TestPipeline_TrippedBreakerBlocks(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.breakers.Get("bot-1").Trip(domain.TripManual, time.Now())

	res := h.pipeline.Submit(context.Background(), intentWithKey("k1"))
	require.Equal(t, StatusRejected, res.Status)
	require.Equal(t, ReasonCircuitTripped, res.Reason)
	require.Equal(t, 0, h.adapter.callCount())

	// Nothing executed under the rejected key.
	fill, err := h.store.FillByIdemKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Nil(t, fill)
}

func TestPipeline_QuarantinedBotBlocked(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, err := h.registry.Update(context.Background(), "bot-1", func(b *domain.Bot) error {
		b.Quarantine.Status = domain.BotQuarantined
		return nil
	})
	require.NoError(t, err)

	res := h.pipeline.Submit(context.Background(), intentWithKey("k1"))
	require.Equal(t, StatusRejected, res.Status)
	require.Equal(t, ReasonCircuitTripped, res.Reason)
}

func TestPipeline_ExecutionErrorKinds(t *testing.T) {
	cases := []struct {
		kind exchange.ErrorKind
		want Reason
	}{
		{exchange.KindValidation, ReasonValidationFailed},
		{exchange.KindMarketReject, ReasonExecutionFailed},
		{exchange.KindUnavailable, ReasonExecutionFailed},
		{exchange.KindAnomaly, ReasonAnomalyDetected},
	}
	for _, tc := range cases {
		h := newHarness(t, DefaultConfig())
		h.adapter.err = exchange.Errf(tc.kind, "boom")

		res := h.pipeline.Submit(context.Background(), intentWithKey("k1"))
		require.Equal(t, StatusRejected, res.Status, string(tc.kind))
		require.Equal(t, tc.want, res.Reason, string(tc.kind))
	}
}

func TestPipeline_AnomalyFlagsBot(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.adapter.err = exchange.Errf(exchange.KindAnomaly, "impossible pnl")

	h.pipeline.Submit(context.Background(), intentWithKey("k1"))
	b, err := h.registry.Get("bot-1")
	require.NoError(t, err)
	require.NotEmpty(t, b.AnomalyFlag)
}

func TestPipeline_RepeatedErrorsTripBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.BurstMax = 0 // so every submission reaches execution
	h := newHarness(t, cfg)
	h.adapter.err = exchange.Errf(exchange.KindUnavailable, "venue down")

	// DefaultConfig trips past 10 errors in an hour.
	for i := 0; i < 12; i++ {
		h.pipeline.Submit(context.Background(), intentWithKey(uuid.NewString()))
	}
	require.Equal(t, domain.BreakerTripped, h.breakers.Status("bot-1").State)
	require.NotEmpty(t, h.trips)
	require.Equal(t, domain.TripErrorRate, h.trips[0])
}

func TestPipeline_FatalWhenLedgerWriteFails(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.store.Close())

	res := h.pipeline.Submit(context.Background(), intentWithKey("k1"))
	require.Equal(t, StatusFatal, res.Status)
	require.NotNil(t, res.Fill)

	// The key stays blocked pending reconciliation.
	pending, ok := h.pipeline.PendingStatus("k1")
	require.True(t, ok)
	require.Equal(t, domain.PendingOpen, pending.Status)
}

func TestPipeline_RejectionDoesNotConsumeDailySlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxTradesPerBotDay = 1
	cfg.Limits.BurstMax = 0
	h := newHarness(t, cfg)
	h.adapter.err = exchange.Errf(exchange.KindValidation, "bad qty step")

	res := h.pipeline.Submit(context.Background(), intentWithKey("k1"))
	require.Equal(t, ReasonValidationFailed, res.Reason)

	// The released slot lets a corrected order through.
	h.adapter.err = nil
	res = h.pipeline.Submit(context.Background(), intentWithKey("k2"))
	require.Equal(t, StatusFilled, res.Status)
}
