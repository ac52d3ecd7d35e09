package domain

import (
	"fmt"

	"amarktai_core/pkg/quant"
)

// SymbolRule is an exchange's trading constraint set for one symbol.
// Orders are validated against these before any fee or slippage math.
type SymbolRule struct {
	Exchange          string            `yaml:"exchange" json:"exchange"`
	Symbol            string            `yaml:"symbol" json:"symbol"`
	MinQtySats        quant.QtySats     `yaml:"min_qty_sats" json:"min_qty_sats"`
	MaxQtySats        quant.QtySats     `yaml:"max_qty_sats" json:"max_qty_sats"`
	MinNotionalMicros int64             `yaml:"min_notional_micros" json:"min_notional_micros"`
	QtyStepSats       quant.QtySats     `yaml:"qty_step_sats" json:"qty_step_sats"`
	PriceTickMicros   quant.PriceMicros `yaml:"price_tick_micros" json:"price_tick_micros"`
}

// CheckOrder validates quantity, notional and step sizes. The returned
// error describes the first violated constraint.
func (r *SymbolRule) CheckOrder(qty quant.QtySats, price quant.PriceMicros) error {
	if r.MinQtySats > 0 && qty < r.MinQtySats {
		return fmt.Errorf("%s %s: qty %s below minimum %s", r.Exchange, r.Symbol, qty, r.MinQtySats)
	}
	if r.MaxQtySats > 0 && qty > r.MaxQtySats {
		return fmt.Errorf("%s %s: qty %s above maximum %s", r.Exchange, r.Symbol, qty, r.MaxQtySats)
	}
	if r.QtyStepSats > 0 && qty%r.QtyStepSats != 0 {
		return fmt.Errorf("%s %s: qty %s not a multiple of step %s", r.Exchange, r.Symbol, qty, r.QtyStepSats)
	}
	if r.PriceTickMicros > 0 && price > 0 && price%r.PriceTickMicros != 0 {
		return fmt.Errorf("%s %s: price %s not a multiple of tick %s", r.Exchange, r.Symbol, price, r.PriceTickMicros)
	}
	if r.MinNotionalMicros > 0 {
		if notional := quant.NotionalMicros(price, qty); notional < r.MinNotionalMicros {
			return fmt.Errorf("%s %s: notional %d below minimum %d", r.Exchange, r.Symbol, notional, r.MinNotionalMicros)
		}
	}
	return nil
}
