package quant

import (
	"testing"
)

func TestToPriceMicros(t *testing.T) {
	if got := ToPriceMicros(1.23); got != 1_230_000 {
		t.Errorf("expected 1230000, got %d", got)
	}
	if got := ToPriceMicros(0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestNotionalMicros(t *testing.T) {
	// 0.5 BTC @ 100 USD = 50 USD notional
	price := ToPriceMicros(100)
	qty := ToQtySats(0.5)

	if got := NotionalMicros(price, qty); got != 50_000_000 {
		t.Errorf("expected 50000000, got %d", got)
	}

	// Negative qty (short) yields the same absolute notional
	if got := NotionalMicros(price, -qty); got != 50_000_000 {
		t.Errorf("expected 50000000 for negative qty, got %d", got)
	}
}

func TestApplyBps(t *testing.T) {
	// 10 bps of 1,000,000 micros = 1,000 micros
	if got := ApplyBps(1_000_000, 10); got != 1_000 {
		t.Errorf("expected 1000, got %d", got)
	}
	if got := ApplyBps(1_000_000, 0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestRatioBps(t *testing.T) {
	// 220 / 1000 = 22% = 2200 bps
	if got := RatioBps(220, 1000); got != 2200 {
		t.Errorf("expected 2200, got %d", got)
	}
	if got := RatioBps(100, 0); got != 0 {
		t.Errorf("expected 0 for zero denominator, got %d", got)
	}
}

func TestTimeStampRoundTrip(t *testing.T) {
	ts := TimeStamp(1_700_000_000_000_000)
	if back := FromTime(ts.Time()); back != ts {
		t.Errorf("round trip mismatch: %d != %d", back, ts)
	}
}
