package risk

import (
	"log/slog"
	"sync"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/pkg/quant"
)

// Config holds the trip thresholds for one breaker.
type Config struct {
	MaxDailyLossBps      quant.Bps `yaml:"max_daily_loss_bps"`
	MaxDrawdownBps       quant.Bps `yaml:"max_drawdown_bps"`
	MaxConsecutiveLosses int       `yaml:"max_consecutive_losses"`
	MaxErrorsPerHour     int       `yaml:"max_errors_per_hour"`
}

// DefaultConfig returns the production defaults: 10% daily loss, 20%
// drawdown, 5 consecutive losses, 10 execution errors per hour.
func DefaultConfig() Config {
	return Config{
		MaxDailyLossBps:      1000,
		MaxDrawdownBps:       2000,
		MaxConsecutiveLosses: 5,
		MaxErrorsPerHour:     10,
	}
}

// Breaker is the risk circuit breaker for one bot.
// closed -> tripped through defined trip conditions only;
// tripped -> closed only via explicit reset, never by the breaker itself.
// Thread-safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state        domain.CircuitBreakerState
	consecLosses int
	errorTimes   []time.Time
}

// NewBreaker creates a closed breaker for a bot.
func NewBreaker(botID string, cfg Config) *Breaker {
	return &Breaker{
		cfg: cfg,
		state: domain.CircuitBreakerState{
			BotID: botID,
			State: domain.BreakerClosed,
		},
	}
}

// Allow reports whether orders may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.State == domain.BreakerClosed
}

// State returns a copy of the breaker state (for monitoring).
func (b *Breaker) State() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordFill updates the win/loss streak. Only closing fills move the
// streak: a pure opening fill always pays a fee and would otherwise count
// five buys in a row as five losses.
func (b *Breaker) RecordFill(netDeltaMicros int64, closed bool) {
	if !closed {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if netDeltaMicros < 0 {
		b.consecLosses++
	} else {
		b.consecLosses = 0
	}
}

// RecordError registers an execution error for the error-rate condition.
func (b *Breaker) RecordError(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorTimes = append(b.errorTimes, now)
	b.pruneErrors(now)
}

// Evaluate checks every trip condition against the given equity state.
// Deterministic: no hidden inputs beyond the recorded streak and errors.
// Returns the trip reason and true when this call tripped the breaker.
func (b *Breaker) Evaluate(eq domain.EquityState, now time.Time) (domain.TripReason, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.State == domain.BreakerTripped {
		return b.state.TripReason, false
	}

	reason, trip := b.check(eq, now)
	if !trip {
		return "", false
	}

	b.state.State = domain.BreakerTripped
	b.state.TripReason = reason
	b.state.TrippedAt = quant.FromTime(now)
	b.state.TripCount++

	slog.Warn("CIRCUIT_TRIPPED",
		slog.String("bot_id", b.state.BotID),
		slog.String("reason", string(reason)),
		slog.Int64("equity", eq.EquityMicros),
		slog.Int64("drawdown_bps", int64(eq.DrawdownBps)))
	return reason, true
}

func (b *Breaker) check(eq domain.EquityState, now time.Time) (domain.TripReason, bool) {
	if b.cfg.MaxDailyLossBps > 0 && eq.DailyLossBps() > b.cfg.MaxDailyLossBps {
		return domain.TripDailyLoss, true
	}
	if b.cfg.MaxDrawdownBps > 0 && eq.DrawdownBps > b.cfg.MaxDrawdownBps {
		return domain.TripMaxDrawdown, true
	}
	if b.cfg.MaxConsecutiveLosses > 0 && b.consecLosses >= b.cfg.MaxConsecutiveLosses {
		return domain.TripConsecutiveLosses, true
	}
	if b.cfg.MaxErrorsPerHour > 0 {
		b.pruneErrors(now)
		if len(b.errorTimes) > b.cfg.MaxErrorsPerHour {
			return domain.TripErrorRate, true
		}
	}
	return "", false
}

// Trip forces the breaker open (explicit pause).
func (b *Breaker) Trip(reason domain.TripReason, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.State == domain.BreakerTripped {
		return false
	}
	b.state.State = domain.BreakerTripped
	b.state.TripReason = reason
	b.state.TrippedAt = quant.FromTime(now)
	b.state.TripCount++
	return true
}

// Reset closes the breaker. Only admin action or the quarantine manager's
// scheduled resume calls this.
func (b *Breaker) Reset(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.State = domain.BreakerClosed
	b.state.TripReason = ""
	b.state.TrippedAt = 0
	b.state.LastResetAt = quant.FromTime(now)
	b.consecLosses = 0
	b.errorTimes = nil

	slog.Info("CIRCUIT_RESET", slog.String("bot_id", b.state.BotID))
}

// must be called with mutex held
func (b *Breaker) pruneErrors(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := b.errorTimes[:0]
	for _, t := range b.errorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.errorTimes = kept
}
