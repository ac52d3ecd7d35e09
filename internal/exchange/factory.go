package exchange

import (
	"fmt"
	"log/slog"
	"os"

	"amarktai_core/internal/domain"
)

// Factory picks the Adapter for a bot based on its mode.
// Paper bots share one simulator; live bots get the adapter registered
// for their exchange.
type Factory struct {
	paper Adapter
	live  map[string]Adapter
}

// NewFactory creates a factory around the paper simulator.
func NewFactory(paper Adapter) *Factory {
	return &Factory{
		paper: paper,
		live:  make(map[string]Adapter),
	}
}

// RegisterLive wires a live exchange adapter. Refuses to arm live trading
// without the explicit safety latch, same as flipping a bot to live mode.
func (f *Factory) RegisterLive(exchange string, a Adapter) error {
	if os.Getenv("CONFIRM_REAL_MONEY") != "true" {
		return fmt.Errorf("SAFETY_GUARD: live adapter for %s requires CONFIRM_REAL_MONEY=true", exchange)
	}
	slog.Warn("🚨 Live adapter armed", slog.String("exchange", exchange))
	f.live[exchange] = a
	return nil
}

// ForBot returns the adapter matching the bot's mode.
func (f *Factory) ForBot(b *domain.Bot) (Adapter, error) {
	switch b.Mode {
	case domain.ModePaper:
		return f.paper, nil
	case domain.ModeLive:
		a, ok := f.live[b.Exchange]
		if !ok {
			return nil, fmt.Errorf("no live adapter registered for exchange %s", b.Exchange)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown bot mode %q", b.Mode)
	}
}
