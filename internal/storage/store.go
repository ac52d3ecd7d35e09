package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"amarktai_core/internal/domain"
	"amarktai_core/pkg/quant"

	_ "github.com/glebarez/go-sqlite"
)

// ErrDuplicateFill is returned when a fill's idempotency key already has a
// terminal fill in the ledger.
var ErrDuplicateFill = errors.New("duplicate fill for idempotency key")

// LedgerStore is the durable, append-only home of Fills and LedgerEvents.
// A single authoritative process owns it; losing or duplicating a fill is
// the one outcome treated as unacceptable under any failure mode.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore opens (or creates) the SQLite ledger with WAL mode enabled.
func NewLedgerStore(dbPath string) (*LedgerStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure SQLite for durable append-only logging
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		// Append-only. No UPDATE or DELETE statement in this package
		// touches fills or ledger_events.
		`CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty INTEGER NOT NULL,
			price INTEGER NOT NULL,
			fee INTEGER NOT NULL,
			fee_currency TEXT NOT NULL,
			notional INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			source TEXT NOT NULL,
			provenance TEXT NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_bot_ts ON fills(bot_id, ts, id);`,
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			ts INTEGER NOT NULL,
			reason TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_bot_ts ON ledger_events(bot_id, ts, id);`,
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS breaker_trips (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT NOT NULL,
			ts INTEGER NOT NULL,
			snapshot BLOB NOT NULL,
			actor TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &LedgerStore{db: db}, nil
}

// AppendFill stores a fill. Returns ErrDuplicateFill when the idempotency
// key already has a terminal fill; any other error means storage is
// unavailable and the caller must NOT report the order as filled.
func (s *LedgerStore) AppendFill(ctx context.Context, f *domain.Fill) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("refusing to append invalid fill: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fills
			(id, bot_id, user_id, exchange, symbol, side, qty, price, fee, fee_currency, notional, ts, source, provenance, idempotency_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.BotID, f.UserID, f.Exchange, f.Symbol, string(f.Side),
		int64(f.QtySats), int64(f.PriceMicros), f.FeeMicros, f.FeeCurrency,
		f.NotionalMicros, int64(f.Ts), string(f.Source), string(f.Provenance), f.IdempotencyKey,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateFill
		}
		return fmt.Errorf("failed to insert fill: %w", err)
	}
	return nil
}

// AppendEvent stores a non-trade capital movement.
func (s *LedgerStore) AppendEvent(ctx context.Context, e *domain.LedgerEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("refusing to append invalid event: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_events (id, bot_id, kind, amount, currency, ts, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BotID, string(e.Kind), e.AmountMicros, e.Currency, int64(e.Ts), e.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger event: %w", err)
	}
	return nil
}

// FillByIdemKey returns the fill recorded for an idempotency key, or nil.
func (s *LedgerStore) FillByIdemKey(ctx context.Context, key string) (*domain.Fill, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, bot_id, user_id, exchange, symbol, side, qty, price, fee, fee_currency, notional, ts, source, provenance, idempotency_key
		 FROM fills WHERE idempotency_key = ?`, key)

	f, err := scanFill(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fill by key: %w", err)
	}
	return f, nil
}

// LoadFills returns a bot's fills in canonical replay order (ts, then id).
// asOf of 0 means no upper bound.
func (s *LedgerStore) LoadFills(ctx context.Context, botID string, asOf quant.TimeStamp) ([]domain.Fill, error) {
	bound := int64(asOf)
	if bound == 0 {
		bound = int64(^uint64(0) >> 1)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bot_id, user_id, exchange, symbol, side, qty, price, fee, fee_currency, notional, ts, source, provenance, idempotency_key
		 FROM fills WHERE bot_id = ? AND ts <= ? ORDER BY ts ASC, id ASC`,
		botID, bound)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		fills = append(fills, *f)
	}
	return fills, rows.Err()
}

// LoadEvents returns a bot's ledger events in canonical order.
func (s *LedgerStore) LoadEvents(ctx context.Context, botID string, asOf quant.TimeStamp) ([]domain.LedgerEvent, error) {
	bound := int64(asOf)
	if bound == 0 {
		bound = int64(^uint64(0) >> 1)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bot_id, kind, amount, currency, ts, reason
		 FROM ledger_events WHERE bot_id = ? AND ts <= ? ORDER BY ts ASC, id ASC`,
		botID, bound)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger events: %w", err)
	}
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		var e domain.LedgerEvent
		var kind string
		var ts int64
		if err := rows.Scan(&e.ID, &e.BotID, &kind, &e.AmountMicros, &e.Currency, &ts, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan ledger event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.Ts = quant.TimeStamp(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertBot persists a bot's registry record as a JSON payload.
func (s *LedgerStore) UpsertBot(ctx context.Context, b *domain.Bot) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal bot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bots (id, payload, deleted, updated_at) VALUES (?, ?, 0, ?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		b.ID, payload, int64(quant.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bot: %w", err)
	}
	return nil
}

// MarkBotDeleted tombstones a bot's registry row. The bot's fills and
// events stay queryable: the ledger is auditable even post-deletion.
func (s *LedgerStore) MarkBotDeleted(ctx context.Context, botID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bots SET deleted = 1, updated_at = ? WHERE id = ?`,
		int64(quant.Now()), botID)
	if err != nil {
		return fmt.Errorf("failed to mark bot deleted: %w", err)
	}
	return nil
}

// LoadBots returns all non-deleted bots.
func (s *LedgerStore) LoadBots(ctx context.Context) ([]domain.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM bots WHERE deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	var bots []domain.Bot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		var b domain.Bot
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// AppendTrip records a circuit-breaker trip or reset for audit.
func (s *LedgerStore) AppendTrip(ctx context.Context, rec *domain.TripRecord) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal trip snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO breaker_trips (bot_id, action, reason, ts, snapshot, actor)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.BotID, rec.Action, string(rec.Reason), int64(rec.Ts), snapshot, rec.By,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip record: %w", err)
	}
	return nil
}

// LoadTrips returns the most recent trip-history entries for a bot.
func (s *LedgerStore) LoadTrips(ctx context.Context, botID string, limit int) ([]domain.TripRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bot_id, action, reason, ts, snapshot, actor
		 FROM breaker_trips WHERE bot_id = ? ORDER BY seq DESC LIMIT ?`,
		botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var recs []domain.TripRecord
	for rows.Next() {
		var rec domain.TripRecord
		var reason string
		var ts int64
		var snapshot []byte
		if err := rows.Scan(&rec.BotID, &rec.Action, &reason, &ts, &snapshot, &rec.By); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		rec.Reason = domain.TripReason(reason)
		rec.Ts = quant.TimeStamp(ts)
		if err := json.Unmarshal(snapshot, &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trip snapshot: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *LedgerStore) UpsertMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, int64(quant.Now()),
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *LedgerStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Close closes the database connection.
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFill(row rowScanner) (*domain.Fill, error) {
	var f domain.Fill
	var side, source, provenance string
	var qty, price, ts int64
	err := row.Scan(&f.ID, &f.BotID, &f.UserID, &f.Exchange, &f.Symbol, &side,
		&qty, &price, &f.FeeMicros, &f.FeeCurrency, &f.NotionalMicros, &ts,
		&source, &provenance, &f.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	f.Side = domain.Side(side)
	f.Source = domain.Source(source)
	f.Provenance = domain.Provenance(provenance)
	f.QtySats = quant.QtySats(qty)
	f.PriceMicros = quant.PriceMicros(price)
	f.Ts = quant.TimeStamp(ts)
	return &f, nil
}
