package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/internal/event"
	"amarktai_core/internal/storage"
	"amarktai_core/pkg/quant"
)

// Set owns one Breaker per bot and the trip-history audit trail.
type Set struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
	store    *storage.LedgerStore
	bus      event.Emitter
}

// NewSet creates a breaker set. store may be nil in tests (no audit).
func NewSet(cfg Config, store *storage.LedgerStore, bus event.Emitter) *Set {
	if bus == nil {
		bus = event.NopEmitter{}
	}
	return &Set{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
		store:    store,
		bus:      bus,
	}
}

// Get returns (creating if needed) the breaker for a bot.
func (s *Set) Get(botID string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[botID]
	if !ok {
		b = NewBreaker(botID, s.cfg)
		s.breakers[botID] = b
	}
	return b
}

// Remove drops a deleted bot's breaker. Its audit rows remain.
func (s *Set) Remove(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, botID)
}

// EvaluateAfterFill is the synchronous post-fill re-evaluation.
// Records the fill outcome, runs the trip conditions, and on a trip writes
// the audit row and publishes circuit_tripped.
func (s *Set) EvaluateAfterFill(ctx context.Context, eq domain.EquityState, netDeltaMicros int64, closed bool, now time.Time) (domain.TripReason, bool) {
	b := s.Get(eq.BotID)
	b.RecordFill(netDeltaMicros, closed)

	reason, tripped := b.Evaluate(eq, now)
	if tripped {
		s.audit(ctx, eq, "trip", reason, now, "")
		s.bus.Publish(event.Event{
			Kind:  event.KindCircuitTripped,
			BotID: eq.BotID,
			Ts:    quant.FromTime(now),
			Detail: map[string]string{
				"reason": string(reason),
			},
		})
	}
	return reason, tripped
}

// RecordError registers an execution error and re-evaluates the error-rate
// condition against the bot's current equity state.
func (s *Set) RecordError(ctx context.Context, eq domain.EquityState, now time.Time) (domain.TripReason, bool) {
	b := s.Get(eq.BotID)
	b.RecordError(now)

	reason, tripped := b.Evaluate(eq, now)
	if tripped {
		s.audit(ctx, eq, "trip", reason, now, "")
		s.bus.Publish(event.Event{
			Kind:  event.KindCircuitTripped,
			BotID: eq.BotID,
			Ts:    quant.FromTime(now),
			Detail: map[string]string{
				"reason": string(reason),
			},
		})
	}
	return reason, tripped
}

// Reset closes a bot's breaker with an audit entry naming the actor.
func (s *Set) Reset(ctx context.Context, botID string, eq domain.EquityState, by string, now time.Time) {
	s.Get(botID).Reset(now)
	s.audit(ctx, eq, "reset", domain.TripManual, now, by)
}

// Status returns the breaker state for a bot.
func (s *Set) Status(botID string) domain.CircuitBreakerState {
	return s.Get(botID).State()
}

func (s *Set) audit(ctx context.Context, eq domain.EquityState, action string, reason domain.TripReason, now time.Time, by string) {
	if s.store == nil {
		return
	}
	rec := &domain.TripRecord{
		BotID:    eq.BotID,
		Action:   action,
		Reason:   reason,
		Ts:       quant.FromTime(now),
		Snapshot: eq,
		By:       by,
	}
	if err := s.store.AppendTrip(ctx, rec); err != nil {
		// Audit failure must not block trading decisions that already
		// happened; it is logged and surfaced through monitoring.
		slog.Error("TRIP_AUDIT_FAILED",
			slog.String("bot_id", eq.BotID),
			slog.Any("error", err))
	}
}
