package domain

import (
	"testing"

	"amarktai_core/pkg/quant"
)

func validFill() Fill {
	return Fill{
		ID:             "f-1",
		BotID:          "bot-1",
		UserID:         "user-1",
		Exchange:       "binance",
		Symbol:         "BTCUSDT",
		Side:           SideBuy,
		QtySats:        quant.ToQtySats(1.0),
		PriceMicros:    quant.ToPriceMicros(100),
		FeeMicros:      100_000,
		FeeCurrency:    "USDT",
		NotionalMicros: 100_000_000,
		Ts:             quant.TimeStamp(1_700_000_000_000_000),
		Source:         SourcePaper,
		Provenance:     ProvenanceDemo,
		IdempotencyKey: "idem-1",
	}
}

func TestFill_Validate(t *testing.T) {
	f := validFill()
	if err := f.Validate(); err != nil {
		t.Fatalf("valid fill rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Fill)
	}{
		{"missing id", func(f *Fill) { f.ID = "" }},
		{"missing bot", func(f *Fill) { f.BotID = "" }},
		{"bad side", func(f *Fill) { f.Side = "HOLD" }},
		{"zero qty", func(f *Fill) { f.QtySats = 0 }},
		{"negative price", func(f *Fill) { f.PriceMicros = -1 }},
		{"negative fee", func(f *Fill) { f.FeeMicros = -1 }},
		{"bad source", func(f *Fill) { f.Source = "backtest" }},
		{"missing idem key", func(f *Fill) { f.IdempotencyKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFill()
			tt.mutate(&f)
			if err := f.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestOrderIntent_HashStable(t *testing.T) {
	a := OrderIntent{
		BotID: "b1", UserID: "u1", Exchange: "binance", Symbol: "BTCUSDT",
		Side: SideBuy, QtySats: 100, IdempotencyKey: "k1",
	}
	b := a
	if a.Hash() != b.Hash() {
		t.Error("identical intents must hash identically")
	}

	b.QtySats = 200
	if a.Hash() == b.Hash() {
		t.Error("different qty must change the hash")
	}
}

func TestSymbolRule_CheckOrder(t *testing.T) {
	rule := SymbolRule{
		Exchange:          "binance",
		Symbol:            "BTCUSDT",
		MinQtySats:        1_000,
		MaxQtySats:        quant.ToQtySats(100),
		MinNotionalMicros: 10_000_000, // 10 USD
		QtyStepSats:       100,
	}

	price := quant.ToPriceMicros(50_000)

	if err := rule.CheckOrder(quant.ToQtySats(0.01), price); err != nil {
		t.Errorf("valid order rejected: %v", err)
	}
	if err := rule.CheckOrder(500, price); err == nil {
		t.Error("expected min-qty rejection")
	}
	if err := rule.CheckOrder(1_050, price); err == nil {
		t.Error("expected step-size rejection")
	}
	// 1,000 sats at 50k = 0.5 USD, below 10 USD min notional
	if err := rule.CheckOrder(1_000, price); err == nil {
		t.Error("expected min-notional rejection")
	}
}
