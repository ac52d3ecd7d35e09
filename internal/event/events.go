// Package event carries the core's domain events to the outside world
// (UI, notifications). The core only emits; it never depends on delivery.
package event

import (
	"amarktai_core/pkg/quant"
)

// Kind identifies a domain event type.
type Kind string

const (
	KindFillRecorded  Kind = "fill_recorded"
	KindCircuitTripped Kind = "circuit_tripped"
	KindBotQuarantined Kind = "bot_quarantined"
	KindBotRedeployed  Kind = "bot_redeployed"
	KindBotRegenerated Kind = "bot_regenerated"
)

// Event is one domain event. Detail carries kind-specific fields as
// strings so subscribers never need the core's internal types.
type Event struct {
	Kind   Kind              `json:"kind"`
	BotID  string            `json:"bot_id"`
	Ts     quant.TimeStamp   `json:"ts"`
	Detail map[string]string `json:"detail,omitempty"`
}

// Emitter is the boundary the core publishes through.
type Emitter interface {
	Publish(ev Event)
}

// NopEmitter discards events. Used in tests and tools.
type NopEmitter struct{}

func (NopEmitter) Publish(Event) {}
