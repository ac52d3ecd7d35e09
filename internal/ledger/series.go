package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/pkg/quant"
	"amarktai_core/pkg/safe"
)

// Period is a profit-series bucketing granularity.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ProfitSeries buckets a bot's fills by period boundary in the bot's
// configured timezone. Only periods containing fills appear; buckets come
// back oldest-first, capped to the most recent `limit`.
func (e *Engine) ProfitSeries(ctx context.Context, botID string, period Period, limit int) ([]domain.ProfitBucket, error) {
	switch period {
	case PeriodDay, PeriodWeek, PeriodMonth:
	default:
		return nil, fmt.Errorf("invalid period %q", period)
	}

	fills, err := e.store.LoadFills(ctx, botID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load fills for series: %w", err)
	}

	e.mu.RLock()
	loc := e.locs[botID]
	e.mu.RUnlock()
	if loc == nil {
		loc = time.UTC
	}

	// Re-run the FIFO fold so each fill's realized contribution lands in
	// the bucket of the fill that closed the lot.
	books := make(map[string]*lotBook)
	buckets := make(map[int64]*domain.ProfitBucket)

	for i := range fills {
		f := &fills[i]
		book, ok := books[f.Symbol]
		if !ok {
			book = &lotBook{}
			books[f.Symbol] = book
		}
		signedQty := int64(f.QtySats)
		if f.Side == domain.SideSell {
			signedQty = -signedQty
		}
		realized := book.apply(signedQty, int64(f.PriceMicros))

		start := periodStart(f.Ts.Time().In(loc), period)
		key := start.UnixMicro()
		b, ok := buckets[key]
		if !ok {
			b = &domain.ProfitBucket{PeriodStart: quant.TimeStamp(key)}
			buckets[key] = b
		}
		b.GrossPnLMicros = safe.SafeAdd(b.GrossPnLMicros, realized)
		b.FeesMicros = safe.SafeAdd(b.FeesMicros, f.FeeMicros)
		b.NetProfitMicros = safe.SafeSub(b.GrossPnLMicros, b.FeesMicros)
		b.TradeCount++
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	out := make([]domain.ProfitBucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, *buckets[k])
	}
	return out, nil
}

// periodStart truncates t to the start of its day, ISO week (Monday) or
// month, in t's location.
func periodStart(t time.Time, period Period) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch period {
	case PeriodWeek:
		weekday := int(day.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday belongs to the week started 6 days back
		}
		return day.AddDate(0, 0, -(weekday - 1))
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}
