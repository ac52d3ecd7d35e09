package pipeline

import (
	"fmt"
	"sync"
	"time"

	"amarktai_core/internal/domain"
)

// LimiterConfig bounds trade volume per bot, per user, and per exchange.
type LimiterConfig struct {
	MaxTradesPerBotDay  int
	MaxTradesPerUserDay int
	// Burst window: at most BurstMax orders per exchange in BurstWindow.
	BurstMax    int
	BurstWindow time.Duration
}

// DefaultLimiterConfig is the production ceiling set.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxTradesPerBotDay:  200,
		MaxTradesPerUserDay: 1000,
		BurstMax:            10,
		BurstWindow:         10 * time.Second,
	}
}

// tradeLimiter enforces daily counters and the per-exchange burst window.
// One mutex covers check and reserve so two concurrent submissions cannot
// both claim the last slot.
type tradeLimiter struct {
	mu  sync.Mutex
	cfg LimiterConfig

	botDays  map[string]*dayCounter
	userDays map[string]*dayCounter
	bursts   map[string][]time.Time

	clock func() time.Time
}

type dayCounter struct {
	day   string // YYYY-MM-DD in the counter's timezone
	count int
}

func newTradeLimiter(cfg LimiterConfig) *tradeLimiter {
	return &tradeLimiter{
		cfg:      cfg,
		botDays:  make(map[string]*dayCounter),
		userDays: make(map[string]*dayCounter),
		bursts:   make(map[string][]time.Time),
		clock:    time.Now,
	}
}

// reserve atomically checks all three limits and, if all pass, consumes
// one slot from each. Nothing is consumed on rejection.
func (l *tradeLimiter) reserve(intent *domain.OrderIntent, loc *time.Location) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	day := now.In(loc).Format("2006-01-02")

	botC := l.counter(l.botDays, intent.BotID, day)
	if l.cfg.MaxTradesPerBotDay > 0 && botC.count >= l.cfg.MaxTradesPerBotDay {
		return fmt.Errorf("bot %s reached %d trades for %s", intent.BotID, l.cfg.MaxTradesPerBotDay, day)
	}

	userC := l.counter(l.userDays, intent.UserID, day)
	if l.cfg.MaxTradesPerUserDay > 0 && userC.count >= l.cfg.MaxTradesPerUserDay {
		return fmt.Errorf("user %s reached %d trades for %s", intent.UserID, l.cfg.MaxTradesPerUserDay, day)
	}

	window := l.pruneBurst(intent.Exchange, now)
	if l.cfg.BurstMax > 0 && len(window) >= l.cfg.BurstMax {
		return fmt.Errorf("exchange %s burst limit: %d orders in %s", intent.Exchange, l.cfg.BurstMax, l.cfg.BurstWindow)
	}

	botC.count++
	userC.count++
	l.bursts[intent.Exchange] = append(window, now)
	return nil
}

// release returns the daily slots consumed by a reservation whose order
// never reached the venue. Burst entries are deliberately not returned:
// the submission attempt itself is load on the exchange.
func (l *tradeLimiter) release(intent *domain.OrderIntent, loc *time.Location) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.clock().In(loc).Format("2006-01-02")
	if c, ok := l.botDays[intent.BotID]; ok && c.day == day && c.count > 0 {
		c.count--
	}
	if c, ok := l.userDays[intent.UserID]; ok && c.day == day && c.count > 0 {
		c.count--
	}
}

// usage reports today's consumed count for a bot.
func (l *tradeLimiter) usage(botID string, loc *time.Location) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.clock().In(loc).Format("2006-01-02")
	if c, ok := l.botDays[botID]; ok && c.day == day {
		return c.count
	}
	return 0
}

// counter fetches (rolling to the new day if needed) a daily counter.
// Called under l.mu.
func (l *tradeLimiter) counter(m map[string]*dayCounter, key, day string) *dayCounter {
	c, ok := m[key]
	if !ok || c.day != day {
		c = &dayCounter{day: day}
		m[key] = c
	}
	return c
}

// pruneBurst drops burst entries older than the window. Called under l.mu.
func (l *tradeLimiter) pruneBurst(exchange string, now time.Time) []time.Time {
	cutoff := now.Add(-l.cfg.BurstWindow)
	window := l.bursts[exchange][:0]
	for _, t := range l.bursts[exchange] {
		if t.After(cutoff) {
			window = append(window, t)
		}
	}
	return window
}
