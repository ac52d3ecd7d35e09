package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
app:
  name: amarktai-core
  version: 1.0.0
server:
  addr: ":9000"
  admin_token: file-token
pipeline:
  exec_timeout_sec: 5
  limits:
    max_trades_per_bot_day: 50
    burst_max: 10
    burst_window_sec: 10
exchanges:
  paperex:
    ws_url: wss://stream.example.com/ws
    fees:
      maker_bps: 2
      taker_bps: 5
      quote_currency: USDT
    symbols: [BTCUSDT]
    symbol_rules:
      BTCUSDT:
        min_qty: 0.0001
        min_notional: 10
        qty_step: 0.0001
        price_tick: 0.01
    daily_volumes:
      BTCUSDT: 1000000
logging:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if got := cfg.PipelineConfig().ExecTimeout; got != 5*time.Second {
		t.Errorf("exec_timeout = %v", got)
	}
	if got := cfg.PipelineConfig().Limits.BurstWindow; got != 10*time.Second {
		t.Errorf("burst_window = %v", got)
	}
	if cfg.Exchanges["paperex"].Fees.TakerBps != 5 {
		t.Errorf("taker bps = %d", cfg.Exchanges["paperex"].Fees.TakerBps)
	}

	// Defaults fill omitted sections.
	q := cfg.QuarantineConfig()
	if len(q.Durations) != 3 || q.Durations[0] != time.Hour || q.Durations[2] != 24*time.Hour {
		t.Errorf("quarantine defaults missing: %v", q.Durations)
	}
	if cfg.Breaker.MaxDailyLossBps == 0 {
		t.Error("breaker defaults missing")
	}
	if cfg.Simulator.FailureRate != 0.03 {
		t.Errorf("simulator default failure rate = %v", cfg.Simulator.FailureRate)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("AMARKTAI_ADMIN_TOKEN", "env-token")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.AdminToken != "env-token" {
		t.Errorf("admin token = %s, want env override", cfg.Server.AdminToken)
	}
}

func TestLoadConfig_RejectsBadWSURL(t *testing.T) {
	bad := `
exchanges:
  paperex:
    ws_url: http://not-a-websocket
`
	if _, err := LoadConfig(writeConfig(t, bad)); err == nil {
		t.Fatal("expected invalid WS URL error")
	}
}

func TestFeeSchedule(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	fees := cfg.FeeSchedule()
	if taker, ok := fees("paperex"); !ok || taker != 5 {
		t.Errorf("fees(paperex) = %d, %v", taker, ok)
	}
	if _, ok := fees("unknown"); ok {
		t.Error("unknown exchange should have no schedule")
	}
}

func TestSymbolRuleConfig_ToDomain(t *testing.T) {
	r := SymbolRuleConfig{MinQty: 0.0001, MinNotional: 10, QtyStep: 0.0001, PriceTick: 0.01}
	d := r.ToDomain()
	if d.MinQtySats != 10_000 {
		t.Errorf("min qty = %d", d.MinQtySats)
	}
	if d.MinNotionalMicros != 10_000_000 {
		t.Errorf("min notional = %d", d.MinNotionalMicros)
	}
	if d.PriceTickMicros != 10_000 {
		t.Errorf("price tick = %d", d.PriceTickMicros)
	}
}
