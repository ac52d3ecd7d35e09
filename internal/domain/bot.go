package domain

import (
	"fmt"
	"time"

	"amarktai_core/pkg/quant"
)

// Mode is the trading execution mode of a bot.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// BotStatus is the quarantine lifecycle state of a bot.
type BotStatus string

const (
	BotActive           BotStatus = "active"
	BotQuarantined      BotStatus = "quarantined"
	BotMarkedForDeletion BotStatus = "marked_for_deletion"
)

// QuarantineRecord tracks a bot's escalation through timed quarantine.
// quarantine_count only increases (except on explicit admin reset) and
// drives the escalation schedule.
type QuarantineRecord struct {
	Count          int             `json:"quarantine_count"`
	Status         BotStatus       `json:"status"`
	Reason         string          `json:"quarantine_reason,omitempty"`
	QuarantinedAt  quant.TimeStamp `json:"quarantined_at,omitempty"`
	RetrainingUntil quant.TimeStamp `json:"retraining_until,omitempty"`

	// Generation increments on every transition so a scan racing a manual
	// reset or a fresh trip never acts on a stale deadline.
	Generation int64 `json:"generation"`
}

// Bot is one trading bot instance. The registry owns the mutable fields;
// the ledger only ever references bots by ID.
type Bot struct {
	ID                   string          `json:"bot_id"`
	UserID               string          `json:"user_id"`
	Name                 string          `json:"name"`
	Exchange             string          `json:"exchange"`
	Symbol               string          `json:"symbol"`
	Mode                 Mode            `json:"mode"`
	Strategy             string          `json:"strategy"`
	InitialCapitalMicros int64           `json:"initial_capital"`
	TimeZone             string          `json:"timezone"`
	CreatedAt            quant.TimeStamp `json:"created_at"`

	// OriginBotID back-references the bot this one replaced, set only on
	// regenerated bots.
	OriginBotID string `json:"origin_bot_id,omitempty"`

	Quarantine QuarantineRecord `json:"quarantine"`

	// AnomalyFlag marks the bot for manual review after a sanity-check
	// rejection. Never cleared automatically.
	AnomalyFlag string `json:"anomaly_flag,omitempty"`
}

// Validate checks the bot at registration time.
func (b *Bot) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("bot: missing id")
	}
	if b.UserID == "" {
		return fmt.Errorf("bot %s: missing user_id", b.ID)
	}
	if b.Exchange == "" {
		return fmt.Errorf("bot %s: missing exchange", b.ID)
	}
	if b.Mode != ModePaper && b.Mode != ModeLive {
		return fmt.Errorf("bot %s: invalid mode %q", b.ID, b.Mode)
	}
	if b.InitialCapitalMicros <= 0 {
		return fmt.Errorf("bot %s: initial capital must be positive", b.ID)
	}
	if _, err := b.Location(); err != nil {
		return fmt.Errorf("bot %s: invalid timezone %q: %w", b.ID, b.TimeZone, err)
	}
	return nil
}

// Location resolves the bot's configured timezone, defaulting to UTC.
// Daily trade-limit windows and profit buckets are cut in this location.
func (b *Bot) Location() (*time.Location, error) {
	if b.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(b.TimeZone)
}
