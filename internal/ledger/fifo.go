package ledger

import (
	"amarktai_core/pkg/quant"
	"amarktai_core/pkg/safe"
)

// lot is one open FIFO lot. Quantity is signed: positive lots are long,
// negative lots are short.
type lot struct {
	QtySats     int64 `json:"qty"`
	PriceMicros int64 `json:"price"`
}

// lotBook holds the open lots for one bot+symbol, oldest first.
// Realized PnL comes exclusively from matching incoming quantity against
// the oldest opposing lots; partial consumption splits the lot.
type lotBook struct {
	Lots []lot `json:"lots"`
}

// apply folds a signed fill quantity (positive = buy) into the book and
// returns the realized PnL in micros, gross of fees.
func (b *lotBook) apply(qtySats, priceMicros int64) int64 {
	remaining := qtySats
	realized := int64(0)

	for remaining != 0 && len(b.Lots) > 0 {
		front := &b.Lots[0]
		if sameSign(front.QtySats, remaining) {
			break // same direction extends the book, nothing to match
		}

		matched := min64(abs64(remaining), abs64(front.QtySats))

		// Closing a long: proceeds - cost. Closing a short: cost - proceeds.
		diff := safe.SafeSub(priceMicros, front.PriceMicros)
		pnl := safe.SafeDiv(safe.SafeMul(diff, matched), quant.QtyScale)
		if front.QtySats < 0 {
			pnl = -pnl
		}
		realized = safe.SafeAdd(realized, pnl)

		if front.QtySats > 0 {
			front.QtySats -= matched
			remaining += matched
		} else {
			front.QtySats += matched
			remaining -= matched
		}
		if front.QtySats == 0 {
			b.Lots = b.Lots[1:]
		}
	}

	if remaining != 0 {
		b.Lots = append(b.Lots, lot{QtySats: remaining, PriceMicros: priceMicros})
	}
	return realized
}

// unrealized marks the open lots against a reference price.
func (b *lotBook) unrealized(markMicros int64) int64 {
	total := int64(0)
	for _, l := range b.Lots {
		diff := safe.SafeSub(markMicros, l.PriceMicros)
		total = safe.SafeAdd(total, safe.SafeDiv(safe.SafeMul(diff, l.QtySats), quant.QtyScale))
	}
	return total
}

// openQty returns the signed net open quantity.
func (b *lotBook) openQty() int64 {
	total := int64(0)
	for _, l := range b.Lots {
		total = safe.SafeAdd(total, l.QtySats)
	}
	return total
}

// avgEntry returns the quantity-weighted average entry price of the open
// lots, or 0 when the book is flat.
func (b *lotBook) avgEntry() int64 {
	qty, cost := int64(0), int64(0)
	for _, l := range b.Lots {
		q := abs64(l.QtySats)
		qty = safe.SafeAdd(qty, q)
		cost = safe.SafeAdd(cost, safe.SafeMul(l.PriceMicros, q)/quant.QtyScale)
	}
	if qty == 0 {
		return 0
	}
	return safe.SafeDiv(safe.SafeMul(cost, quant.QtyScale), qty)
}

func sameSign(a, b int64) bool {
	return (a > 0) == (b > 0)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
