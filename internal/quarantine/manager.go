// Package quarantine owns the bot discipline lifecycle: a tripped bot is
// pulled from trading for an escalating retraining window, and a bot that
// keeps tripping is deleted and replaced by a fresh paper-mode instance.
// The ledger history of a deleted bot is never touched.
package quarantine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"amarktai_core/internal/bot"
	"amarktai_core/internal/domain"
	"amarktai_core/internal/event"
	"amarktai_core/internal/ledger"
	"amarktai_core/internal/obs"
	"amarktai_core/internal/risk"
	"amarktai_core/internal/storage"
	"amarktai_core/pkg/quant"

	"github.com/google/uuid"
)

// Config tunes the escalation ladder and the resume scanner.
type Config struct {
	// Durations are the retraining windows by offense number. A trip past
	// the last rung deletes and regenerates the bot.
	Durations    []time.Duration
	ScanInterval time.Duration
}

// DefaultConfig is the production ladder: 1h, 3h, 24h, then regeneration.
func DefaultConfig() Config {
	return Config{
		Durations:    []time.Duration{time.Hour, 3 * time.Hour, 24 * time.Hour},
		ScanInterval: time.Minute,
	}
}

// Manager applies quarantine transitions. All transitions bump the
// record's Generation so the background scanner never acts on a deadline
// that a manual operation already superseded.
type Manager struct {
	cfg      Config
	registry *bot.Registry
	engine   *ledger.Engine
	store    *storage.LedgerStore
	breakers *risk.Set
	bus      event.Emitter
	metrics  *obs.Metrics

	clock func() time.Time
}

// NewManager wires the quarantine manager.
func NewManager(cfg Config, registry *bot.Registry, engine *ledger.Engine,
	store *storage.LedgerStore, breakers *risk.Set, bus event.Emitter, metrics *obs.Metrics) *Manager {
	if len(cfg.Durations) == 0 {
		cfg = DefaultConfig()
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Minute
	}
	if bus == nil {
		bus = event.NopEmitter{}
	}
	if metrics == nil {
		metrics = obs.Nop()
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		store:    store,
		breakers: breakers,
		bus:      bus,
		metrics:  metrics,
		clock:    time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// OnTrip escalates a bot's quarantine after a circuit-breaker trip.
// Offense N serves Durations[N-1]; past the ladder the bot is deleted and
// regenerated.
func (m *Manager) OnTrip(ctx context.Context, botID string, reason domain.TripReason) {
	now := m.clock()
	updated, err := m.registry.Update(ctx, botID, func(b *domain.Bot) error {
		q := &b.Quarantine
		q.Count++
		q.Generation++
		q.Reason = string(reason)
		q.QuarantinedAt = quant.FromTime(now)
		if q.Count > len(m.cfg.Durations) {
			q.Status = domain.BotMarkedForDeletion
			q.RetrainingUntil = 0
			return nil
		}
		q.Status = domain.BotQuarantined
		q.RetrainingUntil = quant.FromTime(now.Add(m.cfg.Durations[q.Count-1]))
		return nil
	})
	if err != nil {
		slog.Error("QUARANTINE_FAILED", slog.String("bot_id", botID), slog.Any("error", err))
		return
	}

	if updated.Quarantine.Status == domain.BotMarkedForDeletion {
		slog.Warn("🗑️ Bot exceeded quarantine ladder, regenerating",
			slog.String("bot_id", botID),
			slog.Int("offenses", updated.Quarantine.Count))
		m.metrics.Quarantines.WithLabelValues("regenerate").Inc()
		m.regenerate(ctx, &updated)
		return
	}

	slog.Warn("⛔ Bot quarantined",
		slog.String("bot_id", botID),
		slog.String("reason", string(reason)),
		slog.Int("offense", updated.Quarantine.Count),
		slog.Time("until", updated.Quarantine.RetrainingUntil.Time()))
	m.metrics.Quarantines.WithLabelValues("quarantine").Inc()
	m.bus.Publish(event.Event{
		Kind:  event.KindBotQuarantined,
		BotID: botID,
		Ts:    quant.FromTime(now),
		Detail: map[string]string{
			"reason":  string(reason),
			"offense": fmt.Sprint(updated.Quarantine.Count),
		},
	})
}

// regenerate deletes the exhausted bot and registers a fresh paper-mode
// replacement with the same strategy and capital. The old bot's fills stay
// in the ledger; only its registry row is tombstoned.
func (m *Manager) regenerate(ctx context.Context, old *domain.Bot) {
	now := m.clock()
	fresh := &domain.Bot{
		ID:                   uuid.NewString(),
		UserID:               old.UserID,
		Name:                 old.Name,
		Exchange:             old.Exchange,
		Symbol:               old.Symbol,
		Mode:                 domain.ModePaper,
		Strategy:             old.Strategy,
		InitialCapitalMicros: old.InitialCapitalMicros,
		TimeZone:             old.TimeZone,
		OriginBotID:          old.ID,
	}

	if err := m.registry.Delete(ctx, old.ID); err != nil {
		slog.Error("REGENERATION_DELETE_FAILED", slog.String("bot_id", old.ID), slog.Any("error", err))
		return
	}
	m.breakers.Remove(old.ID)
	m.metrics.ForgetBot(old.ID)

	if err := m.registry.Register(ctx, fresh); err != nil {
		slog.Error("REGENERATION_REGISTER_FAILED", slog.String("origin", old.ID), slog.Any("error", err))
		return
	}

	loc, err := fresh.Location()
	if err != nil {
		loc = time.UTC
	}
	m.engine.RegisterBot(fresh.ID, loc)

	funding := &domain.LedgerEvent{
		ID:           uuid.NewString(),
		BotID:        fresh.ID,
		Kind:         domain.EventFunding,
		AmountMicros: fresh.InitialCapitalMicros,
		Currency:     "USDT",
		Ts:           quant.FromTime(now),
		Reason:       fmt.Sprintf("regenerated from %s", old.ID),
	}
	if err := m.store.AppendEvent(ctx, funding); err != nil {
		slog.Error("REGENERATION_FUNDING_FAILED", slog.String("bot_id", fresh.ID), slog.Any("error", err))
	} else {
		m.engine.ApplyEvent(funding)
	}

	slog.Info("🌱 Bot regenerated",
		slog.String("origin", old.ID),
		slog.String("bot_id", fresh.ID))
	m.bus.Publish(event.Event{
		Kind:  event.KindBotRegenerated,
		BotID: fresh.ID,
		Ts:    quant.FromTime(now),
		Detail: map[string]string{
			"origin_bot_id": old.ID,
		},
	})
}

// Run is the resume scanner. It redeploys bots whose retraining window has
// elapsed, checking the record generation so a concurrent manual action
// wins over a stale deadline.
func (m *Manager) Run(ctx context.Context) {
	slog.Info("✅ Quarantine scanner started", slog.Duration("interval", m.cfg.ScanInterval))
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Quarantine scanner stopped")
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan runs one pass of the resume check.
func (m *Manager) Scan(ctx context.Context) {
	now := m.clock()
	for _, b := range m.registry.List() {
		q := b.Quarantine
		if q.Status != domain.BotQuarantined || q.RetrainingUntil == 0 {
			continue
		}
		if quant.FromTime(now) < q.RetrainingUntil {
			continue
		}
		m.redeploy(ctx, b.ID, q.Generation, "scanner")
	}
}

// ForceResume is the operator override: return a bot to trading before
// its window elapses. Offense count is kept.
func (m *Manager) ForceResume(ctx context.Context, botID, by string) error {
	b, err := m.registry.Get(botID)
	if err != nil {
		return err
	}
	if b.Quarantine.Status != domain.BotQuarantined {
		return fmt.Errorf("bot %s is not quarantined", botID)
	}
	return m.redeploy(ctx, botID, b.Quarantine.Generation, by)
}

// redeploy moves a quarantined bot back to active if its record generation
// still matches. Timing fields clear; the offense count survives so the
// next trip escalates.
func (m *Manager) redeploy(ctx context.Context, botID string, generation int64, by string) error {
	now := m.clock()
	_, err := m.registry.Update(ctx, botID, func(b *domain.Bot) error {
		q := &b.Quarantine
		if q.Generation != generation {
			return fmt.Errorf("bot %s quarantine record changed, skipping redeploy", botID)
		}
		q.Status = domain.BotActive
		q.Reason = ""
		q.QuarantinedAt = 0
		q.RetrainingUntil = 0
		q.Generation++
		return nil
	})
	if err != nil {
		slog.Warn("REDEPLOY_SKIPPED", slog.String("bot_id", botID), slog.Any("error", err))
		return err
	}

	eq := m.engine.Equity(botID)
	m.breakers.Reset(ctx, botID, eq, by, now)
	m.metrics.Quarantines.WithLabelValues("redeploy").Inc()

	slog.Info("▶️ Bot redeployed", slog.String("bot_id", botID), slog.String("by", by))
	m.bus.Publish(event.Event{
		Kind:  event.KindBotRedeployed,
		BotID: botID,
		Ts:    quant.FromTime(now),
		Detail: map[string]string{
			"by": by,
		},
	})
	return nil
}

// ResetCount clears a bot's offense history. Operator-only: used when a
// quarantine run traced back to an infrastructure fault, not the bot.
func (m *Manager) ResetCount(ctx context.Context, botID string) error {
	_, err := m.registry.Update(ctx, botID, func(b *domain.Bot) error {
		b.Quarantine.Count = 0
		b.Quarantine.Generation++
		return nil
	})
	return err
}

// CancelDeletion rescues a bot marked for deletion back into quarantine on
// the last rung. Only meaningful before regeneration completes, which in
// practice means a bot whose regeneration failed partway.
func (m *Manager) CancelDeletion(ctx context.Context, botID string) error {
	now := m.clock()
	last := m.cfg.Durations[len(m.cfg.Durations)-1]
	_, err := m.registry.Update(ctx, botID, func(b *domain.Bot) error {
		if b.Quarantine.Status != domain.BotMarkedForDeletion {
			return fmt.Errorf("bot %s is not marked for deletion", botID)
		}
		b.Quarantine.Status = domain.BotQuarantined
		b.Quarantine.RetrainingUntil = quant.FromTime(now.Add(last))
		b.Quarantine.Generation++
		return nil
	})
	return err
}

// Status returns a bot's quarantine record.
func (m *Manager) Status(botID string) (domain.QuarantineRecord, error) {
	b, err := m.registry.Get(botID)
	if err != nil {
		return domain.QuarantineRecord{}, err
	}
	return b.Quarantine, nil
}
