// Package sim is the paper-trading execution venue. It implements the
// same Adapter capability as a live exchange client and produces fills
// realistic enough that a strategy validated on paper behaves the same
// against real fees, slippage and rejections.
package sim

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/internal/exchange"
	"amarktai_core/internal/marketdata"
	"amarktai_core/pkg/quant"
	"amarktai_core/pkg/safe"

	"github.com/google/uuid"
)

// FeeTable holds one exchange's fee schedule in bps.
type FeeTable struct {
	MakerBps      quant.Bps `yaml:"maker_bps"`
	TakerBps      quant.Bps `yaml:"taker_bps"`
	QuoteCurrency string    `yaml:"quote_currency"`
}

// Config tunes the simulator's market model.
type Config struct {
	// FailureRate is the probability an order is rejected by the venue
	// without consuming capital. Matches observed live fill rates.
	FailureRate float64
	// DelayDriftBps bounds the ± price drift emulating execution latency.
	DelayDriftBps quant.Bps
	// MaxTradeLossBps is the sanity ceiling on |pnl| relative to capital.
	MaxTradeLossBps quant.Bps
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64

	Fees         map[string]FeeTable          // by exchange
	Rules        map[string]domain.SymbolRule // by exchange|symbol
	DailyVolumes map[string]int64             // notional micros by symbol
}

// DefaultConfig returns the production model: 3% rejection, ±5 bps drift,
// 50% per-trade loss ceiling.
func DefaultConfig() Config {
	return Config{
		FailureRate:     0.03,
		DelayDriftBps:   5,
		MaxTradeLossBps: 5000,
		Fees:            make(map[string]FeeTable),
		Rules:           make(map[string]domain.SymbolRule),
		DailyVolumes:    make(map[string]int64),
	}
}

// RuleKey builds the Rules map key.
func RuleKey(exchangeName, symbol string) string {
	return exchangeName + "|" + symbol
}

// PositionLookup reports a bot's open position in a symbol.
type PositionLookup func(botID, symbol string) (entry quant.PriceMicros, qty quant.QtySats, ok bool)

// CapitalLookup reports a bot's initial capital for the sanity check.
type CapitalLookup func(botID string) int64

// Simulator produces synthetic fills against real market prices.
type Simulator struct {
	cfg      Config
	prices   marketdata.PriceSource
	position PositionLookup
	capital  CapitalLookup

	rngMu sync.Mutex
	rng   *rand.Rand

	clock func() time.Time
}

// NewSimulator wires the simulator to its market data and ledger lookups.
func NewSimulator(cfg Config, prices marketdata.PriceSource, position PositionLookup, capital CapitalLookup) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg:      cfg,
		prices:   prices,
		position: position,
		capital:  capital,
		rng:      rand.New(rand.NewSource(seed)),
		clock:    time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (s *Simulator) SetClock(clock func() time.Time) {
	s.clock = clock
}

// FetchPrice returns the best-available market price for a symbol.
func (s *Simulator) FetchPrice(ctx context.Context, symbol string) (quant.PriceMicros, error) {
	p, ok := s.prices.Price(symbol)
	if !ok {
		return 0, exchange.Errf(exchange.KindNoPrice, "no market data for %s", symbol)
	}
	return p.PriceMicros, nil
}

// Execute runs the full simulated venue flow: symbol-rule validation,
// order-failure roll, slippage, latency drift, fees, and the P&L sanity
// check. Rule validation happens before any fee or slippage math.
func (s *Simulator) Execute(ctx context.Context, intent domain.OrderIntent) (*domain.Fill, error) {
	point, ok := s.prices.Price(intent.Symbol)
	if !ok {
		return nil, exchange.Errf(exchange.KindNoPrice, "no market data for %s", intent.Symbol)
	}
	marketPrice := point.PriceMicros

	refPrice := intent.LimitPriceMicros
	if refPrice == 0 {
		refPrice = marketPrice
	}

	if rule, ok := s.cfg.Rules[RuleKey(intent.Exchange, intent.Symbol)]; ok {
		if err := rule.CheckOrder(intent.QtySats, refPrice); err != nil {
			return nil, exchange.Errf(exchange.KindValidation, "%v", err)
		}
	}

	if s.roll() < s.cfg.FailureRate {
		return nil, exchange.Errf(exchange.KindMarketReject, "order rejected by venue (simulated)")
	}

	notional := quant.NotionalMicros(marketPrice, intent.QtySats)
	execPrice := s.applySlippage(marketPrice, notional, intent.Symbol, intent.Side)
	execPrice = s.applyDrift(execPrice)
	notional = quant.NotionalMicros(execPrice, intent.QtySats)

	fees := s.cfg.Fees[intent.Exchange]
	feeBps := fees.TakerBps
	if intent.LimitPriceMicros > 0 {
		feeBps = fees.MakerBps
	}
	feeMicros := quant.ApplyBps(notional, feeBps)
	feeCurrency := fees.QuoteCurrency
	if feeCurrency == "" {
		feeCurrency = "USDT"
	}

	if err := s.sanityCheck(intent, execPrice, feeMicros); err != nil {
		return nil, err
	}

	now := s.clock()
	fill := &domain.Fill{
		ID:             uuid.NewString(),
		BotID:          intent.BotID,
		UserID:         intent.UserID,
		Exchange:       intent.Exchange,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		QtySats:        intent.QtySats,
		PriceMicros:    execPrice,
		FeeMicros:      feeMicros,
		FeeCurrency:    feeCurrency,
		NotionalMicros: notional,
		Ts:             quant.FromTime(now),
		Source:         domain.SourcePaper,
		Provenance:     point.Provenance,
		IdempotencyKey: intent.IdempotencyKey,
	}

	slog.Info("PAPER EXECUTION: Order Filled",
		slog.String("bot_id", fill.BotID),
		slog.String("symbol", fill.Symbol),
		slog.String("side", string(fill.Side)),
		slog.String("price", fill.PriceMicros.String()),
		slog.String("qty", fill.QtySats.String()),
		slog.Int64("fee", fill.FeeMicros))
	return fill, nil
}

// applySlippage worsens the price by a tier keyed on order notional vs.
// the symbol's assumed daily volume: <1% of volume costs 1 bp, 1-5% costs
// 5 bps, beyond that 10 bps plus 1 bp per extra percent, capped at 50.
func (s *Simulator) applySlippage(price quant.PriceMicros, notional int64, symbol string, side domain.Side) quant.PriceMicros {
	volume := s.cfg.DailyVolumes[symbol]
	if volume <= 0 {
		volume = notional * 1000 // unknown volume: assume a deep market
	}
	ratio := quant.RatioBps(notional, volume)

	var slip quant.Bps
	switch {
	case ratio < 100:
		slip = 1
	case ratio <= 500:
		slip = 5
	default:
		slip = 10 + (ratio-500)/100
		if slip > 50 {
			slip = 50
		}
	}

	delta := quant.ApplyBps(int64(price), slip)
	if side == domain.SideBuy {
		return price + quant.PriceMicros(delta) // buyer pays up
	}
	return price - quant.PriceMicros(delta)
}

// applyDrift emulates execution latency with a uniform ± drift.
func (s *Simulator) applyDrift(price quant.PriceMicros) quant.PriceMicros {
	if s.cfg.DelayDriftBps <= 0 {
		return price
	}
	span := int64(s.cfg.DelayDriftBps)
	drift := quant.Bps(s.rollInt(2*span+1) - span) // [-span, +span]
	return price + quant.PriceMicros(quant.ApplyBps(int64(price), drift))
}

// sanityCheck rejects fills whose implied trade PnL is impossible for the
// bot's capital. Anomalies are rejected and flagged, never clamped: a
// simulator bug must not reach the ledger as a plausible-looking fill.
func (s *Simulator) sanityCheck(intent domain.OrderIntent, execPrice quant.PriceMicros, feeMicros int64) error {
	entry, openQty, ok := s.position(intent.BotID, intent.Symbol)
	if !ok {
		return nil // opening trade realizes nothing
	}

	closing := (openQty > 0 && intent.Side == domain.SideSell) ||
		(openQty < 0 && intent.Side == domain.SideBuy)
	if !closing {
		return nil
	}

	matched := int64(intent.QtySats)
	if open := int64(openQty); open < 0 {
		open = -open
		if matched > open {
			matched = open
		}
	} else if matched > open {
		matched = open
	}

	diff := safe.SafeSub(int64(execPrice), int64(entry))
	pnl := safe.SafeDiv(safe.SafeMul(diff, matched), quant.QtyScale)
	if openQty < 0 {
		pnl = -pnl
	}
	pnl = safe.SafeSub(pnl, feeMicros)

	capital := s.capital(intent.BotID)
	if capital <= 0 {
		return nil
	}

	absPnL := pnl
	if absPnL < 0 {
		absPnL = -absPnL
	}
	if absPnL > capital || quant.RatioBps(absPnL, capital) > s.cfg.MaxTradeLossBps {
		slog.Error("SIMULATOR_ANOMALY",
			slog.String("bot_id", intent.BotID),
			slog.String("symbol", intent.Symbol),
			slog.Int64("pnl", pnl),
			slog.Int64("capital", capital))
		return exchange.Errf(exchange.KindAnomaly,
			"impossible trade pnl %d against capital %d", pnl, capital)
	}
	return nil
}

func (s *Simulator) roll() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) rollInt(n int64) int64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Int63n(n)
}
