package quant

import (
	"fmt"
	"math"
	"time"

	"amarktai_core/pkg/safe"
)

// PriceMicros represents price multiplied by 1,000,000 (10^6).
// E.g., 1.23 USD = 1,230,000 PriceMicros.
type PriceMicros int64

// QtySats represents quantity multiplied by 100,000,000 (10^8).
// E.g., 1.0 BTC = 100,000,000 QtySats.
type QtySats int64

// Bps represents basis points. 10,000 bps = 100%.
type Bps int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	PriceScale = 1_000_000
	QtyScale   = 100_000_000
	BpsScale   = 10_000
)

// ToPriceMicros converts a float64 (from external API) to PriceMicros.
// Note: Only used at the boundary. Internal logic uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

// ToQtySats converts a float64 to QtySats.
func ToQtySats(f float64) QtySats {
	return QtySats(math.Round(f * QtyScale))
}

func (p PriceMicros) String() string {
	return fmt.Sprintf("%.6f", float64(p)/PriceScale)
}

func (q QtySats) String() string {
	return fmt.Sprintf("%.8f", float64(q)/QtyScale)
}

// Now returns the current time as a TimeStamp (Unix micros).
func Now() TimeStamp {
	return TimeStamp(time.Now().UnixMicro())
}

// FromTime converts a time.Time to a TimeStamp.
func FromTime(t time.Time) TimeStamp {
	return TimeStamp(t.UnixMicro())
}

// Time converts the TimeStamp back to time.Time (UTC).
func (ts TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

// NotionalMicros computes |quantity| * price scaled back to Micros.
// Overflow-checked: a price*qty product exceeding int64 halts the core.
func NotionalMicros(p PriceMicros, q QtySats) int64 {
	abs := q
	if abs < 0 {
		abs = -abs
	}
	return safe.SafeDiv(safe.SafeMul(int64(p), int64(abs)), QtyScale)
}

// ApplyBps returns amount * bps / 10,000, rounding toward zero.
func ApplyBps(amountMicros int64, bps Bps) int64 {
	return safe.SafeDiv(safe.SafeMul(amountMicros, int64(bps)), BpsScale)
}

// RatioBps returns part/whole expressed in basis points.
// Returns 0 when whole is 0 (callers treat an empty base as "no ratio").
func RatioBps(part, whole int64) Bps {
	if whole == 0 {
		return 0
	}
	return Bps(safe.SafeDiv(safe.SafeMul(part, BpsScale), whole))
}
