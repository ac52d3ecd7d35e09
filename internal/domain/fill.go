package domain

import (
	"fmt"

	"amarktai_core/pkg/quant"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Source labels where a fill came from.
type Source string

const (
	SourcePaper Source = "paper"
	SourceLive  Source = "live"
)

// Provenance labels the trust level of the price data behind a fill.
// "demo" = public market data only, "verified" = authenticated account data.
// Downstream consumers must never conflate the two.
type Provenance string

const (
	ProvenanceDemo     Provenance = "demo"
	ProvenanceVerified Provenance = "verified"
)

// Fill is one executed (possibly simulated) trade.
// Immutable once recorded: the ledger never updates or deletes a fill.
// All monetary values are strictly int64 fixed point.
type Fill struct {
	ID             string            `json:"fill_id"`
	BotID          string            `json:"bot_id"`
	UserID         string            `json:"user_id"`
	Exchange       string            `json:"exchange"`
	Symbol         string            `json:"symbol"`
	Side           Side              `json:"side"`
	QtySats        quant.QtySats     `json:"qty"`
	PriceMicros    quant.PriceMicros `json:"price"`
	FeeMicros      int64             `json:"fee"`
	FeeCurrency    string            `json:"fee_currency"`
	NotionalMicros int64             `json:"notional"`
	Ts             quant.TimeStamp   `json:"ts"`
	Source         Source            `json:"source"`
	Provenance     Provenance        `json:"provenance"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// Validate checks the fill at construction time. A fill that passes
// validation is safe to append; nothing downstream re-validates.
func (f *Fill) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("fill: missing id")
	}
	if f.BotID == "" {
		return fmt.Errorf("fill %s: missing bot_id", f.ID)
	}
	if f.Symbol == "" {
		return fmt.Errorf("fill %s: missing symbol", f.ID)
	}
	if f.Side != SideBuy && f.Side != SideSell {
		return fmt.Errorf("fill %s: invalid side %q", f.ID, f.Side)
	}
	if f.QtySats <= 0 {
		return fmt.Errorf("fill %s: qty must be positive, got %d", f.ID, f.QtySats)
	}
	if f.PriceMicros <= 0 {
		return fmt.Errorf("fill %s: price must be positive, got %d", f.ID, f.PriceMicros)
	}
	if f.FeeMicros < 0 {
		return fmt.Errorf("fill %s: fee must not be negative, got %d", f.ID, f.FeeMicros)
	}
	if f.Source != SourcePaper && f.Source != SourceLive {
		return fmt.Errorf("fill %s: invalid source %q", f.ID, f.Source)
	}
	if f.IdempotencyKey == "" {
		return fmt.Errorf("fill %s: missing idempotency_key", f.ID)
	}
	if f.Ts <= 0 {
		return fmt.Errorf("fill %s: missing timestamp", f.ID)
	}
	return nil
}
