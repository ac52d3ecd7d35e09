package domain

import (
	"amarktai_core/pkg/quant"
)

// EquityState is derived, never stored as truth: recomputing it from the
// full Fill+LedgerEvent log must always equal the incrementally maintained
// value. This equivalence is the core correctness property of the ledger.
// All monetary values are strictly int64 micros.
type EquityState struct {
	BotID string `json:"bot_id"`

	EquityMicros        int64 `json:"equity"`
	RealizedPnLMicros   int64 `json:"realized_pnl"`
	UnrealizedPnLMicros int64 `json:"unrealized_pnl"`
	FeesTotalMicros     int64 `json:"fees_total"`
	FundingMicros       int64 `json:"funding_total"`

	PeakEquityMicros   int64     `json:"peak_equity"`
	DrawdownBps        quant.Bps `json:"drawdown_current_bps"`
	MaxDrawdownBps     quant.Bps `json:"drawdown_max_bps"`
	DayStartEquityMicros int64   `json:"day_start_equity"`

	TradeCount int64           `json:"trade_count"`
	AsOf       quant.TimeStamp `json:"as_of"`
}

// DailyLossBps returns today's loss relative to the day-start equity,
// positive when the bot is down on the day, 0 when flat or up.
func (s *EquityState) DailyLossBps() quant.Bps {
	if s.DayStartEquityMicros <= 0 {
		return 0
	}
	loss := s.DayStartEquityMicros - s.EquityMicros
	if loss <= 0 {
		return 0
	}
	return quant.RatioBps(loss, s.DayStartEquityMicros)
}

// ProfitBucket is one row of a profit series: fills bucketed by period
// boundary (day/week/month) in the bot's configured timezone.
type ProfitBucket struct {
	PeriodStart    quant.TimeStamp `json:"period_start"`
	GrossPnLMicros int64           `json:"gross_pnl"`
	FeesMicros     int64           `json:"fees"`
	NetProfitMicros int64          `json:"net_profit"`
	TradeCount     int64           `json:"trade_count"`
}
