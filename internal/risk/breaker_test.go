package risk

import (
	"context"
	"testing"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/internal/event"
)

type emitterFunc func(kind string)

func (f emitterFunc) Publish(ev event.Event) { f(string(ev.Kind)) }

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := NewBreaker("bot-1", DefaultConfig())
	if !b.Allow() {
		t.Error("closed breaker must allow orders")
	}
	if st := b.State(); st.State != domain.BreakerClosed {
		t.Errorf("expected closed, got %s", st.State)
	}
}

func TestBreaker_TripsOnDrawdown(t *testing.T) {
	b := NewBreaker("bot-1", DefaultConfig())
	now := time.Now()

	// Equity fell from 1000 to 780: 22% drawdown > 20% threshold
	eq := domain.EquityState{
		BotID:                "bot-1",
		EquityMicros:         780_000_000,
		PeakEquityMicros:     1_000_000_000,
		DrawdownBps:          2200,
		DayStartEquityMicros: 1_000_000_000,
	}
	// daily loss is also 22% > 10%, so daily_loss fires first
	reason, tripped := b.Evaluate(eq, now)
	if !tripped {
		t.Fatal("expected trip")
	}
	if reason != domain.TripDailyLoss {
		t.Errorf("expected daily_loss (checked first), got %s", reason)
	}
	if b.Allow() {
		t.Error("tripped breaker must block orders")
	}
}

func TestBreaker_DrawdownWithoutDailyLoss(t *testing.T) {
	b := NewBreaker("bot-1", DefaultConfig())

	// Down 22% from peak but flat on the day
	eq := domain.EquityState{
		BotID:                "bot-1",
		EquityMicros:         780_000_000,
		PeakEquityMicros:     1_000_000_000,
		DrawdownBps:          2200,
		DayStartEquityMicros: 780_000_000,
	}
	reason, tripped := b.Evaluate(eq, time.Now())
	if !tripped || reason != domain.TripMaxDrawdown {
		t.Errorf("expected max_drawdown trip, got %s tripped=%v", reason, tripped)
	}
}

func TestBreaker_ConsecutiveLosses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	b := NewBreaker("bot-1", cfg)
	now := time.Now()
	healthy := domain.EquityState{BotID: "bot-1", EquityMicros: 1_000_000_000, PeakEquityMicros: 1_000_000_000, DayStartEquityMicros: 1_000_000_000}

	// Opening fills never count toward the streak
	b.RecordFill(-1_000, false)
	b.RecordFill(-1_000, false)
	b.RecordFill(-1_000, false)
	if _, tripped := b.Evaluate(healthy, now); tripped {
		t.Fatal("opening fills must not trip the streak")
	}

	b.RecordFill(-1_000, true)
	b.RecordFill(-1_000, true)
	if _, tripped := b.Evaluate(healthy, now); tripped {
		t.Fatal("2 losses must not trip with threshold 3")
	}

	b.RecordFill(-1_000, true)
	reason, tripped := b.Evaluate(healthy, now)
	if !tripped || reason != domain.TripConsecutiveLosses {
		t.Errorf("expected consecutive_losses trip, got %s tripped=%v", reason, tripped)
	}
}

func TestBreaker_WinResetsStreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 2
	b := NewBreaker("bot-1", cfg)
	healthy := domain.EquityState{BotID: "bot-1", EquityMicros: 1_000_000_000, PeakEquityMicros: 1_000_000_000, DayStartEquityMicros: 1_000_000_000}

	b.RecordFill(-1_000, true)
	b.RecordFill(+5_000, true) // win clears the streak
	b.RecordFill(-1_000, true)

	if _, tripped := b.Evaluate(healthy, time.Now()); tripped {
		t.Error("streak must reset on a winning fill")
	}
}

func TestBreaker_ErrorRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxErrorsPerHour = 3
	b := NewBreaker("bot-1", cfg)
	now := time.Now()
	healthy := domain.EquityState{BotID: "bot-1", EquityMicros: 1_000_000_000, PeakEquityMicros: 1_000_000_000, DayStartEquityMicros: 1_000_000_000}

	// Old errors age out of the window
	b.RecordError(now.Add(-2 * time.Hour))
	b.RecordError(now.Add(-90 * time.Minute))
	for i := 0; i < 3; i++ {
		b.RecordError(now)
	}
	if _, tripped := b.Evaluate(healthy, now); tripped {
		t.Fatal("3 errors within the hour must not exceed threshold 3")
	}

	b.RecordError(now)
	reason, tripped := b.Evaluate(healthy, now)
	if !tripped || reason != domain.TripErrorRate {
		t.Errorf("expected error_rate trip, got %s tripped=%v", reason, tripped)
	}
}

func TestBreaker_NoAutoReset(t *testing.T) {
	b := NewBreaker("bot-1", DefaultConfig())
	now := time.Now()

	if !b.Trip(domain.TripManual, now) {
		t.Fatal("manual trip failed")
	}

	// Healthy equity never closes a tripped breaker on its own
	healthy := domain.EquityState{BotID: "bot-1", EquityMicros: 2_000_000_000, PeakEquityMicros: 2_000_000_000, DayStartEquityMicros: 2_000_000_000}
	if _, tripped := b.Evaluate(healthy, now.Add(24*time.Hour)); tripped {
		t.Error("already-tripped breaker must not re-trip")
	}
	if b.Allow() {
		t.Error("breaker must stay tripped until explicit reset")
	}

	b.Reset(now.Add(25 * time.Hour))
	if !b.Allow() {
		t.Error("explicit reset must close the breaker")
	}
	if st := b.State(); st.TripCount != 1 {
		t.Errorf("trip count must survive reset, got %d", st.TripCount)
	}
}

func TestSet_AuditAndEvents(t *testing.T) {
	recorded := make([]string, 0)
	set := NewSet(DefaultConfig(), nil, emitterFunc(func(kind string) {
		recorded = append(recorded, kind)
	}))

	eq := domain.EquityState{
		BotID:                "bot-1",
		EquityMicros:         700_000_000,
		PeakEquityMicros:     1_000_000_000,
		DrawdownBps:          3000,
		DayStartEquityMicros: 700_000_000,
	}
	reason, tripped := set.EvaluateAfterFill(context.Background(), eq, -1_000, true, time.Now())
	if !tripped || reason != domain.TripMaxDrawdown {
		t.Fatalf("expected drawdown trip, got %s", reason)
	}
	if len(recorded) != 1 || recorded[0] != "circuit_tripped" {
		t.Errorf("expected circuit_tripped event, got %v", recorded)
	}
	if st := set.Status("bot-1"); st.State != domain.BreakerTripped {
		t.Errorf("expected tripped status, got %s", st.State)
	}
}
