package domain

import (
	"fmt"

	"amarktai_core/pkg/quant"
)

// EventKind classifies non-trade capital movements.
type EventKind string

const (
	EventFunding    EventKind = "funding"
	EventAdjustment EventKind = "adjustment"
	EventTransfer   EventKind = "transfer"
)

// LedgerEvent is a non-trade capital movement. Same append-only guarantee
// as Fill: created once by the pipeline or bot lifecycle, never mutated.
type LedgerEvent struct {
	ID           string          `json:"event_id"`
	BotID        string          `json:"bot_id"`
	Kind         EventKind       `json:"kind"`
	AmountMicros int64           `json:"amount"`
	Currency     string          `json:"currency"`
	Ts           quant.TimeStamp `json:"ts"`
	Reason       string          `json:"reason"`
}

// Validate checks the event at construction time.
func (e *LedgerEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("ledger event: missing id")
	}
	if e.BotID == "" {
		return fmt.Errorf("ledger event %s: missing bot_id", e.ID)
	}
	switch e.Kind {
	case EventFunding, EventAdjustment, EventTransfer:
	default:
		return fmt.Errorf("ledger event %s: invalid kind %q", e.ID, e.Kind)
	}
	if e.AmountMicros == 0 {
		return fmt.Errorf("ledger event %s: zero amount", e.ID)
	}
	if e.Currency == "" {
		return fmt.Errorf("ledger event %s: missing currency", e.ID)
	}
	if e.Ts <= 0 {
		return fmt.Errorf("ledger event %s: missing timestamp", e.ID)
	}
	return nil
}
