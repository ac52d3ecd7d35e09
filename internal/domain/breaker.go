package domain

import (
	"amarktai_core/pkg/quant"
)

// BreakerState is the circuit breaker state for one bot.
type BreakerState string

const (
	BreakerClosed  BreakerState = "closed"
	BreakerTripped BreakerState = "tripped"
)

// TripReason names the condition that tripped a breaker.
type TripReason string

const (
	TripDailyLoss         TripReason = "daily_loss"
	TripMaxDrawdown       TripReason = "max_drawdown"
	TripConsecutiveLosses TripReason = "consecutive_losses"
	TripErrorRate         TripReason = "error_rate"
	TripManual            TripReason = "manual"
)

// CircuitBreakerState is one of the two mutable records in the core.
// Transitions happen only through defined trip conditions or explicit reset.
type CircuitBreakerState struct {
	BotID       string          `json:"bot_id"`
	State       BreakerState    `json:"state"`
	TripReason  TripReason      `json:"trip_reason,omitempty"`
	TrippedAt   quant.TimeStamp `json:"tripped_at,omitempty"`
	TripCount   int64           `json:"trip_count"`
	LastResetAt quant.TimeStamp `json:"last_reset_at,omitempty"`
}

// TripRecord is one entry of the trip-history audit log.
type TripRecord struct {
	BotID    string          `json:"bot_id"`
	Action   string          `json:"action"` // "trip" or "reset"
	Reason   TripReason      `json:"reason"`
	Ts       quant.TimeStamp `json:"ts"`
	Snapshot EquityState     `json:"snapshot"`
	By       string          `json:"by,omitempty"` // reset actor, empty for trips
}
