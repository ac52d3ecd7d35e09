// Package ledger derives equity, PnL, fees and drawdown from the immutable
// Fill/LedgerEvent log. The incremental state it maintains and a full
// replay of the log MUST agree for every bot at every log length; both
// paths run the exact same fold, so any divergence is a stored-data bug,
// not a computation bug.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/internal/storage"
	"amarktai_core/pkg/quant"
	"amarktai_core/pkg/safe"
)

// FillOutcome reports what a single fill did to the bot's ledger state.
// The circuit breaker consumes it to track win/loss streaks.
type FillOutcome struct {
	RealizedDeltaMicros int64
	NetDeltaMicros      int64 // realized minus this fill's fee
	Closed              bool  // true when the fill closed existing lots
}

// botState is the fold accumulator for one bot. It is exactly the state a
// replay from the empty log would produce.
type botState struct {
	eq        domain.EquityState
	books     map[string]*lotBook
	lastPrice map[string]int64
	loc       *time.Location
	dayKey    string
}

func newBotState(botID string, loc *time.Location) *botState {
	if loc == nil {
		loc = time.UTC
	}
	return &botState{
		eq:        domain.EquityState{BotID: botID},
		books:     make(map[string]*lotBook),
		lastPrice: make(map[string]int64),
		loc:       loc,
	}
}

// Engine maintains incremental equity state per bot and recomputes it from
// the store on demand. Reads are side-effect-free.
type Engine struct {
	mu     sync.RWMutex
	store  *storage.LedgerStore
	states map[string]*botState
	locs   map[string]*time.Location
}

// NewEngine creates a ledger engine backed by the given store.
func NewEngine(store *storage.LedgerStore) *Engine {
	return &Engine{
		store:  store,
		states: make(map[string]*botState),
		locs:   make(map[string]*time.Location),
	}
}

// RegisterBot pins the timezone used for the bot's day boundaries.
// Must be called before the bot's first fill is applied.
func (e *Engine) RegisterBot(botID string, loc *time.Location) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if loc == nil {
		loc = time.UTC
	}
	e.locs[botID] = loc
	if st, ok := e.states[botID]; ok {
		st.loc = loc
	}
}

// Restore rebuilds a bot's incremental state by replaying its full log.
// Called at boot; the same fold is used for live appends afterwards.
func (e *Engine) Restore(ctx context.Context, botID string) error {
	st, err := e.replay(ctx, botID, 0)
	if err != nil {
		return fmt.Errorf("failed to restore ledger state for %s: %w", botID, err)
	}
	e.mu.Lock()
	e.states[botID] = st
	e.mu.Unlock()
	return nil
}

// ApplyFill folds an already-appended fill into the incremental state.
func (e *Engine) ApplyFill(f *domain.Fill) FillOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(f.BotID).applyFill(f)
}

// ApplyEvent folds an already-appended ledger event.
func (e *Engine) ApplyEvent(ev *domain.LedgerEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state(ev.BotID).applyEvent(ev)
}

// Equity returns a copy of the bot's incrementally maintained state.
func (e *Engine) Equity(botID string) domain.EquityState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if st, ok := e.states[botID]; ok {
		return st.eq
	}
	return domain.EquityState{BotID: botID}
}

// OpenPosition returns the average entry price and signed open quantity of
// the bot's position in a symbol, or false when flat. The simulator uses
// it for its per-trade PnL sanity check.
func (e *Engine) OpenPosition(botID, symbol string) (quant.PriceMicros, quant.QtySats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[botID]
	if !ok {
		return 0, 0, false
	}
	book, ok := st.books[symbol]
	if !ok {
		return 0, 0, false
	}
	qty := book.openQty()
	if qty == 0 {
		return 0, 0, false
	}
	return quant.PriceMicros(book.avgEntry()), quant.QtySats(qty), true
}

// ComputeEquity folds the bot's full log up to asOf from storage.
// Must always equal the incremental state when asOf covers the whole log.
func (e *Engine) ComputeEquity(ctx context.Context, botID string, asOf quant.TimeStamp) (domain.EquityState, error) {
	st, err := e.replay(ctx, botID, asOf)
	if err != nil {
		return domain.EquityState{}, err
	}
	return st.eq, nil
}

func (e *Engine) replay(ctx context.Context, botID string, asOf quant.TimeStamp) (*botState, error) {
	fills, err := e.store.LoadFills(ctx, botID, asOf)
	if err != nil {
		return nil, err
	}
	events, err := e.store.LoadEvents(ctx, botID, asOf)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	loc := e.locs[botID]
	e.mu.RUnlock()

	st := newBotState(botID, loc)

	// Merge the two append-only streams in canonical (ts, id) order.
	fi, ei := 0, 0
	for fi < len(fills) || ei < len(events) {
		takeFill := false
		switch {
		case ei >= len(events):
			takeFill = true
		case fi >= len(fills):
			takeFill = false
		case fills[fi].Ts != events[ei].Ts:
			takeFill = fills[fi].Ts < events[ei].Ts
		default:
			takeFill = fills[fi].ID < events[ei].ID
		}
		if takeFill {
			st.applyFill(&fills[fi])
			fi++
		} else {
			st.applyEvent(&events[ei])
			ei++
		}
	}
	return st, nil
}

// lazily creates empty state for a bot's first fill
func (e *Engine) state(botID string) *botState {
	st, ok := e.states[botID]
	if !ok {
		st = newBotState(botID, e.locs[botID])
		e.states[botID] = st
	}
	return st
}

func (st *botState) applyFill(f *domain.Fill) FillOutcome {
	st.rollDay(f.Ts)

	book, ok := st.books[f.Symbol]
	if !ok {
		book = &lotBook{}
		st.books[f.Symbol] = book
	}

	signedQty := int64(f.QtySats)
	if f.Side == domain.SideSell {
		signedQty = -signedQty
	}

	realized := book.apply(signedQty, int64(f.PriceMicros))
	st.eq.RealizedPnLMicros = safe.SafeAdd(st.eq.RealizedPnLMicros, realized)
	st.eq.FeesTotalMicros = safe.SafeAdd(st.eq.FeesTotalMicros, f.FeeMicros)
	st.eq.TradeCount++
	st.lastPrice[f.Symbol] = int64(f.PriceMicros)

	st.refresh(f.Ts)

	return FillOutcome{
		RealizedDeltaMicros: realized,
		NetDeltaMicros:      safe.SafeSub(realized, f.FeeMicros),
		Closed:              realized != 0,
	}
}

func (st *botState) applyEvent(ev *domain.LedgerEvent) {
	st.rollDay(ev.Ts)
	st.eq.FundingMicros = safe.SafeAdd(st.eq.FundingMicros, ev.AmountMicros)
	st.refresh(ev.Ts)
}

// rollDay snapshots day-start equity when the fill/event crosses a calendar
// day boundary in the bot's timezone. Drives the daily-loss trip condition.
func (st *botState) rollDay(ts quant.TimeStamp) {
	key := ts.Time().In(st.loc).Format("2006-01-02")
	if key != st.dayKey {
		st.dayKey = key
		st.eq.DayStartEquityMicros = st.eq.EquityMicros
	}
}

// refresh recomputes equity, unrealized PnL and the drawdown figures.
// peak_equity only ever goes up.
func (st *botState) refresh(ts quant.TimeStamp) {
	unrealized := int64(0)
	for sym, book := range st.books {
		mark, ok := st.lastPrice[sym]
		if !ok {
			continue
		}
		unrealized = safe.SafeAdd(unrealized, book.unrealized(mark))
	}
	st.eq.UnrealizedPnLMicros = unrealized

	equity := st.eq.FundingMicros
	equity = safe.SafeAdd(equity, st.eq.RealizedPnLMicros)
	equity = safe.SafeSub(equity, st.eq.FeesTotalMicros)
	equity = safe.SafeAdd(equity, unrealized)
	st.eq.EquityMicros = equity

	if equity > st.eq.PeakEquityMicros {
		st.eq.PeakEquityMicros = equity
	}
	if st.eq.PeakEquityMicros > 0 {
		dd := quant.RatioBps(safe.SafeSub(st.eq.PeakEquityMicros, equity), st.eq.PeakEquityMicros)
		if dd < 0 {
			dd = 0
		}
		st.eq.DrawdownBps = dd
		if dd > st.eq.MaxDrawdownBps {
			st.eq.MaxDrawdownBps = dd
		}
	}
	if st.eq.DayStartEquityMicros == 0 {
		st.eq.DayStartEquityMicros = equity
	}
	st.eq.AsOf = ts
}
