package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"amarktai_core/internal/bot"
	"amarktai_core/internal/domain"
	"amarktai_core/internal/event"
	"amarktai_core/internal/exchange"
	"amarktai_core/internal/ledger"
	"amarktai_core/internal/obs"
	"amarktai_core/internal/risk"
	"amarktai_core/internal/storage"
	"amarktai_core/pkg/quant"
)

// Config tunes the gate sequence and execution timeout.
type Config struct {
	FeeGate     FeeGateConfig
	Limits      LimiterConfig
	ExecTimeout time.Duration
}

// DefaultConfig returns production gate settings.
func DefaultConfig() Config {
	return Config{
		FeeGate:     DefaultFeeGateConfig(),
		Limits:      DefaultLimiterConfig(),
		ExecTimeout: 10 * time.Second,
	}
}

// FeeSchedule resolves an exchange's taker fee for the fee-coverage gate.
type FeeSchedule func(exchange string) (taker quant.Bps, ok bool)

// TripHandler is invoked synchronously when a fill or error trips a bot's
// circuit breaker. The quarantine manager hangs off this hook.
type TripHandler func(ctx context.Context, botID string, reason domain.TripReason)

// Pipeline runs submissions through the gates, executes against the
// bot's adapter, and records the outcome in the ledger.
type Pipeline struct {
	cfg      Config
	registry *bot.Registry
	engine   *ledger.Engine
	store    *storage.LedgerStore
	adapters *exchange.Factory
	breakers *risk.Set
	bus      event.Emitter
	metrics  *obs.Metrics

	idem    *idemArena
	fees    *feeGate
	limiter *tradeLimiter
	onTrip  TripHandler
	locks   *botLocks

	clock func() time.Time
}

// botLocks serializes the execute-append-apply section per bot. Fills carry
// the timestamp stamped by the adapter, and replay orders by (ts, id); the
// incremental fold must see fills in that same order, so a bot's fills are
// produced and applied one at a time.
type botLocks struct {
	mu   sync.Mutex
	bots map[string]*sync.Mutex
}

func newBotLocks() *botLocks {
	return &botLocks{bots: make(map[string]*sync.Mutex)}
}

func (b *botLocks) acquire(botID string) func() {
	b.mu.Lock()
	l, ok := b.bots[botID]
	if !ok {
		l = &sync.Mutex{}
		b.bots[botID] = l
	}
	b.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// New wires the pipeline. onTrip may be nil (trips then only open the
// breaker without quarantining).
func New(cfg Config, registry *bot.Registry, engine *ledger.Engine, store *storage.LedgerStore,
	adapters *exchange.Factory, breakers *risk.Set, fees FeeSchedule,
	bus event.Emitter, metrics *obs.Metrics, onTrip TripHandler) *Pipeline {

	if bus == nil {
		bus = event.NopEmitter{}
	}
	if metrics == nil {
		metrics = obs.Nop()
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 10 * time.Second
	}
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		store:    store,
		adapters: adapters,
		breakers: breakers,
		bus:      bus,
		metrics:  metrics,
		idem:     newIdemArena(pendingTTL),
		fees:     &feeGate{cfg: cfg.FeeGate, fees: fees},
		limiter:  newTradeLimiter(cfg.Limits),
		onTrip:   onTrip,
		locks:    newBotLocks(),
		clock:    time.Now,
	}
}

// Submit runs one order through the full sequence. Gate order is fixed:
// idempotency, fee coverage, trade limits, circuit breaker. A rejection at
// any gate consumes nothing from later ones.
func (p *Pipeline) Submit(ctx context.Context, intent domain.OrderIntent) Result {
	res := p.submit(ctx, &intent)
	p.metrics.OrdersTotal.WithLabelValues(string(res.Status), string(res.Reason)).Inc()
	return res
}

func (p *Pipeline) submit(ctx context.Context, intent *domain.OrderIntent) Result {
	if err := intent.Validate(); err != nil {
		return rejected(ReasonValidationFailed, err.Error())
	}

	b, err := p.registry.Get(intent.BotID)
	if err != nil {
		return rejected(ReasonValidationFailed, fmt.Sprintf("unknown bot %s", intent.BotID))
	}
	if b.Quarantine.Status != domain.BotActive {
		return rejected(ReasonCircuitTripped, fmt.Sprintf("bot is %s", b.Quarantine.Status))
	}
	loc, err := b.Location()
	if err != nil {
		loc = time.UTC
	}

	// Gate 1: idempotency. A duplicate returns the prior outcome instead
	// of reaching the venue twice.
	pending, fresh := p.idem.register(intent)
	if !fresh {
		return p.duplicateResult(ctx, intent, pending)
	}

	// Gate 2: fee coverage.
	if err := p.fees.check(intent); err != nil {
		p.idem.resolve(intent.IdempotencyKey, domain.PendingRejected, "")
		return rejected(ReasonInsufficientEdge, err.Error())
	}

	// Gate 3: trade limits (atomic reserve).
	if err := p.limiter.reserve(intent, loc); err != nil {
		p.idem.resolve(intent.IdempotencyKey, domain.PendingRejected, "")
		return rejected(ReasonLimitExceeded, err.Error())
	}

	// Gate 4: circuit breaker.
	if !p.breakers.Get(intent.BotID).Allow() {
		p.limiter.release(intent, loc)
		p.idem.resolve(intent.IdempotencyKey, domain.PendingRejected, "")
		return rejected(ReasonCircuitTripped, "circuit breaker is tripped")
	}

	adapter, err := p.adapters.ForBot(&b)
	if err != nil {
		p.limiter.release(intent, loc)
		p.idem.resolve(intent.IdempotencyKey, domain.PendingRejected, "")
		return rejected(ReasonExecutionFailed, err.Error())
	}

	execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecTimeout)
	defer cancel()

	// One fill at a time per bot: the timestamp is stamped inside Execute,
	// and the fold below must apply fills in timestamp order or replay
	// diverges from the incremental state.
	release := p.locks.acquire(intent.BotID)
	fill, err := adapter.Execute(execCtx, *intent)
	if err != nil {
		release()
		return p.executionFailed(ctx, intent, loc, err)
	}

	// The fill exists at the venue. From here every failure is fatal, not
	// a rejection: losing a real fill corrupts equity.
	if err := p.store.AppendFill(ctx, fill); err != nil {
		release()
		if errors.Is(err, storage.ErrDuplicateFill) {
			// Same key already durably recorded: converge on it.
			p.idem.resolve(intent.IdempotencyKey, domain.PendingFilled, fill.ID)
			return p.duplicateResult(ctx, intent, nil)
		}
		slog.Error("LEDGER_WRITE_FAILED: fill executed but not recorded",
			slog.String("bot_id", fill.BotID),
			slog.String("fill_id", fill.ID),
			slog.Any("error", err))
		// Pending stays open: the retry path stays blocked until an
		// operator reconciles against the venue.
		return Result{Status: StatusFatal, Detail: err.Error(), Fill: fill}
	}

	outcome := p.engine.ApplyFill(fill)
	release()
	p.idem.resolve(intent.IdempotencyKey, domain.PendingFilled, fill.ID)
	p.metrics.FillsTotal.WithLabelValues(string(fill.Source)).Inc()

	eq := p.engine.Equity(fill.BotID)
	p.metrics.Equity.WithLabelValues(fill.BotID).Set(float64(eq.EquityMicros))
	p.metrics.DrawdownBps.WithLabelValues(fill.BotID).Set(float64(eq.DrawdownBps))

	p.bus.Publish(event.Event{
		Kind:  event.KindFillRecorded,
		BotID: fill.BotID,
		Ts:    fill.Ts,
		Detail: map[string]string{
			"fill_id": fill.ID,
			"symbol":  fill.Symbol,
			"side":    string(fill.Side),
		},
	})

	now := p.clock()
	if reason, tripped := p.breakers.EvaluateAfterFill(ctx, eq, outcome.NetDeltaMicros, outcome.Closed, now); tripped {
		p.metrics.TripsTotal.WithLabelValues(string(reason)).Inc()
		p.handleTrip(ctx, fill.BotID, reason)
	}

	return Result{Status: StatusFilled, Fill: fill}
}

// executionFailed maps adapter errors onto the rejection taxonomy and
// feeds the breaker's error-rate condition.
func (p *Pipeline) executionFailed(ctx context.Context, intent *domain.OrderIntent, loc *time.Location, err error) Result {
	p.idem.resolve(intent.IdempotencyKey, domain.PendingRejected, "")

	kind := exchange.KindOf(err)
	var reason Reason
	switch kind {
	case exchange.KindValidation:
		reason = ReasonValidationFailed
		p.limiter.release(intent, loc)
	case exchange.KindAnomaly:
		reason = ReasonAnomalyDetected
		p.registry.FlagAnomaly(ctx, intent.BotID, err.Error())
	default:
		reason = ReasonExecutionFailed
	}

	slog.Warn("ORDER_EXECUTION_FAILED",
		slog.String("bot_id", intent.BotID),
		slog.String("symbol", intent.Symbol),
		slog.String("kind", string(kind)),
		slog.Any("error", err))

	// Venue-side failures count toward the error-rate trip condition.
	// Order-shape validation failures are the caller's bug, not venue
	// instability, and stay out of the window.
	if kind != exchange.KindValidation {
		eq := p.engine.Equity(intent.BotID)
		if tripReason, tripped := p.breakers.RecordError(ctx, eq, p.clock()); tripped {
			p.metrics.TripsTotal.WithLabelValues(string(tripReason)).Inc()
			p.handleTrip(ctx, intent.BotID, tripReason)
		}
	}
	return rejected(reason, err.Error())
}

// duplicateResult reports what happened to the original submission with
// this key. If the original filled, the recorded fill is returned so the
// retry converges on the same outcome.
func (p *Pipeline) duplicateResult(ctx context.Context, intent *domain.OrderIntent, pending *domain.PendingOrder) Result {
	if pending != nil && pending.IntentHash != intent.Hash() {
		slog.Warn("IDEMPOTENCY_HASH_MISMATCH: same key, different order",
			slog.String("bot_id", intent.BotID),
			slog.String("key", intent.IdempotencyKey))
	}
	fill, err := p.store.FillByIdemKey(ctx, intent.IdempotencyKey)
	if err == nil && fill != nil {
		return Result{Status: StatusFilled, Reason: ReasonDuplicateOrder, Fill: fill}
	}
	return rejected(ReasonDuplicateOrder, "idempotency key already used")
}

// handleTrip forwards a breaker trip to the quarantine hook.
func (p *Pipeline) handleTrip(ctx context.Context, botID string, reason domain.TripReason) {
	if p.onTrip == nil {
		return
	}
	p.onTrip(ctx, botID, reason)
}

// PendingStatus exposes an idempotency record for the API layer.
func (p *Pipeline) PendingStatus(key string) (*domain.PendingOrder, bool) {
	return p.idem.lookup(key)
}

// DailyUsage reports a bot's consumed daily trade count.
func (p *Pipeline) DailyUsage(botID string, loc *time.Location) int {
	return p.limiter.usage(botID, loc)
}
