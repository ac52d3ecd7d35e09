package infra

import (
	"time"
)

const (
	reconnectBase = 1 * time.Second
	reconnectCap  = 60 * time.Second
)

// ReconnectDelay returns how long to wait before reconnect attempt n of a
// market-data feed: reconnectBase doubled per attempt, capped at
// reconnectCap so a long venue outage settles into a steady retry cadence.
func ReconnectDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return reconnectBase
	}
	// Past 2^6 the cap dominates; also keeps the shift from overflowing.
	if attempt > 6 {
		return reconnectCap
	}
	d := reconnectBase << attempt
	if d > reconnectCap {
		return reconnectCap
	}
	return d
}
