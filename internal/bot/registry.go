// Package bot owns the registry of trading bots. The registry and the
// quarantine records on it are the only mutable state in the core besides
// circuit-breaker state; everything else is derived from the ledger.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"amarktai_core/internal/domain"
	"amarktai_core/internal/storage"
	"amarktai_core/pkg/quant"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown bot IDs.
var ErrNotFound = fmt.Errorf("bot not found")

// Registry is the in-memory bot index, persisted through the ledger
// store's bots table on every mutation.
type Registry struct {
	mu    sync.RWMutex
	bots  map[string]*domain.Bot
	store *storage.LedgerStore
}

// NewRegistry creates an empty registry. store may be nil in tests.
func NewRegistry(store *storage.LedgerStore) *Registry {
	return &Registry{
		bots:  make(map[string]*domain.Bot),
		store: store,
	}
}

// Load restores all non-deleted bots from storage.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	bots, err := r.store.LoadBots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bots: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range bots {
		b := bots[i]
		r.bots[b.ID] = &b
	}
	slog.Info("✅ Bot registry loaded", slog.Int("bots", len(bots)))
	return nil
}

// Register validates and adds a bot, persisting it.
func (r *Registry) Register(ctx context.Context, b *domain.Bot) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt == 0 {
		b.CreatedAt = quant.Now()
	}
	if b.Quarantine.Status == "" {
		b.Quarantine.Status = domain.BotActive
	}
	if err := b.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.bots[b.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("bot %s already registered", b.ID)
	}
	clone := *b
	r.bots[b.ID] = &clone
	r.mu.Unlock()

	return r.persist(ctx, &clone)
}

// Get returns a copy of the bot.
func (r *Registry) Get(botID string) (domain.Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[botID]
	if !ok {
		return domain.Bot{}, fmt.Errorf("%w: %s", ErrNotFound, botID)
	}
	return *b, nil
}

// List returns copies of all registered bots.
func (r *Registry) List() []domain.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Bot, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, *b)
	}
	return out
}

// Update applies fn to the bot under the registry lock and persists the
// result. fn returning an error aborts the mutation.
func (r *Registry) Update(ctx context.Context, botID string, fn func(*domain.Bot) error) (domain.Bot, error) {
	r.mu.Lock()
	b, ok := r.bots[botID]
	if !ok {
		r.mu.Unlock()
		return domain.Bot{}, fmt.Errorf("%w: %s", ErrNotFound, botID)
	}
	if err := fn(b); err != nil {
		r.mu.Unlock()
		return domain.Bot{}, err
	}
	clone := *b
	r.mu.Unlock()

	if err := r.persist(ctx, &clone); err != nil {
		return domain.Bot{}, err
	}
	return clone, nil
}

// Delete removes a bot from the registry and tombstones its storage row.
// The bot's fills and ledger events are never deleted.
func (r *Registry) Delete(ctx context.Context, botID string) error {
	r.mu.Lock()
	_, ok := r.bots[botID]
	delete(r.bots, botID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, botID)
	}
	if r.store != nil {
		if err := r.store.MarkBotDeleted(ctx, botID); err != nil {
			return err
		}
	}
	return nil
}

// FlagAnomaly marks a bot for manual review. Never cleared automatically.
func (r *Registry) FlagAnomaly(ctx context.Context, botID, reason string) {
	_, err := r.Update(ctx, botID, func(b *domain.Bot) error {
		b.AnomalyFlag = reason
		return nil
	})
	if err != nil {
		slog.Error("ANOMALY_FLAG_FAILED", slog.String("bot_id", botID), slog.Any("error", err))
	}
}

func (r *Registry) persist(ctx context.Context, b *domain.Bot) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.UpsertBot(ctx, b); err != nil {
		return fmt.Errorf("failed to persist bot %s: %w", b.ID, err)
	}
	return nil
}
