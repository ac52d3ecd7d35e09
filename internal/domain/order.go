package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"amarktai_core/pkg/quant"
)

// OrderIntent is what the strategy layer submits to the pipeline.
// The pipeline never mutates it; everything derived (hash, notional)
// is computed fresh on each submission.
type OrderIntent struct {
	BotID            string            `json:"bot_id"`
	UserID           string            `json:"user_id"`
	Exchange         string            `json:"exchange"`
	Symbol           string            `json:"symbol"`
	Side             Side              `json:"side"`
	QtySats          quant.QtySats     `json:"qty"`
	LimitPriceMicros quant.PriceMicros `json:"limit_price,omitempty"` // 0 = market
	ExpectedEdgeBps  quant.Bps         `json:"expected_edge_bps"`
	IdempotencyKey   string            `json:"idempotency_key"`
}

// Validate checks the intent before it enters the gate sequence.
func (o *OrderIntent) Validate() error {
	if o.BotID == "" {
		return fmt.Errorf("order intent: missing bot_id")
	}
	if o.UserID == "" {
		return fmt.Errorf("order intent: missing user_id")
	}
	if o.Exchange == "" {
		return fmt.Errorf("order intent: missing exchange")
	}
	if o.Symbol == "" {
		return fmt.Errorf("order intent: missing symbol")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("order intent: invalid side %q", o.Side)
	}
	if o.QtySats <= 0 {
		return fmt.Errorf("order intent: qty must be positive, got %d", o.QtySats)
	}
	if o.LimitPriceMicros < 0 {
		return fmt.Errorf("order intent: negative limit price")
	}
	if o.IdempotencyKey == "" {
		return fmt.Errorf("order intent: missing idempotency_key")
	}
	return nil
}

// Hash returns a stable digest of the executable fields. Two submissions
// with the same key but a different hash are a caller bug worth logging.
func (o *OrderIntent) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d|%d",
		o.BotID, o.UserID, o.Exchange, o.Symbol, o.Side, o.QtySats, o.LimitPriceMicros)
	return hex.EncodeToString(h.Sum(nil))
}

// PendingStatus is the lifecycle state of an idempotency record.
type PendingStatus string

const (
	PendingOpen     PendingStatus = "pending"
	PendingFilled   PendingStatus = "filled"
	PendingRejected PendingStatus = "rejected"
)

// PendingOrder is the TTL-bounded idempotency record. It exists only to
// prevent duplicate execution of retried submissions and is superseded by
// the Fill once execution completes.
type PendingOrder struct {
	IdempotencyKey string          `json:"idempotency_key"`
	BotID          string          `json:"bot_id"`
	IntentHash     string          `json:"order_intent_hash"`
	Status         PendingStatus   `json:"status"`
	FillID         string          `json:"fill_id,omitempty"`
	CreatedAt      quant.TimeStamp `json:"created_at"`
}

// IsTerminal reports whether the record already carries a final outcome.
func (p *PendingOrder) IsTerminal() bool {
	return p.Status == PendingFilled || p.Status == PendingRejected
}
