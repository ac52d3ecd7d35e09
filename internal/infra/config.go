package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/internal/pipeline"
	"amarktai_core/internal/quarantine"
	"amarktai_core/internal/risk"
	"amarktai_core/pkg/quant"

	"gopkg.in/yaml.v3"
)

// FeeConfig is one venue's fee schedule in bps.
type FeeConfig struct {
	MakerBps      quant.Bps `yaml:"maker_bps"`
	TakerBps      quant.Bps `yaml:"taker_bps"`
	QuoteCurrency string    `yaml:"quote_currency"`
}

// ExchangeConfig is the per-venue section: fee schedule, websocket feed,
// and the symbol rules the simulator enforces.
type ExchangeConfig struct {
	WSURL        string                      `yaml:"ws_url"`
	Fees         FeeConfig                   `yaml:"fees"`
	Symbols      []string                    `yaml:"symbols"`
	SymbolRules  map[string]SymbolRuleConfig `yaml:"symbol_rules"`
	DailyVolumes map[string]float64          `yaml:"daily_volumes"` // quote units
}

// SymbolRuleConfig mirrors a venue's published trading rules in human
// units; conversion to fixed point happens once at load.
type SymbolRuleConfig struct {
	MinQty      float64 `yaml:"min_qty"`
	MaxQty      float64 `yaml:"max_qty"`
	MinNotional float64 `yaml:"min_notional"`
	QtyStep     float64 `yaml:"qty_step"`
	PriceTick   float64 `yaml:"price_tick"`
}

// ToDomain converts the rule to fixed-point units.
func (r SymbolRuleConfig) ToDomain() domain.SymbolRule {
	return domain.SymbolRule{
		MinQtySats:        quant.ToQtySats(r.MinQty),
		MaxQtySats:        quant.ToQtySats(r.MaxQty),
		MinNotionalMicros: int64(quant.ToPriceMicros(r.MinNotional)),
		QtyStepSats:       quant.ToQtySats(r.QtyStep),
		PriceTickMicros:   quant.ToPriceMicros(r.PriceTick),
	}
}

// Config holds every application setting. Sensitive values are overridden
// from environment variables after the file loads.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr       string `yaml:"addr"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"server"`

	// Durations are plain seconds/minutes in the file; yaml has no native
	// duration scalar.
	Pipeline struct {
		ExecTimeoutSec int                    `yaml:"exec_timeout_sec"`
		FeeGate        pipeline.FeeGateConfig `yaml:"fee_gate"`
		Limits         struct {
			MaxTradesPerBotDay  int `yaml:"max_trades_per_bot_day"`
			MaxTradesPerUserDay int `yaml:"max_trades_per_user_day"`
			BurstMax            int `yaml:"burst_max"`
			BurstWindowSec      int `yaml:"burst_window_sec"`
		} `yaml:"limits"`
	} `yaml:"pipeline"`

	Breaker risk.Config `yaml:"breaker"`

	Quarantine struct {
		DurationsMinutes []int `yaml:"durations_minutes"`
		ScanIntervalSec  int   `yaml:"scan_interval_sec"`
	} `yaml:"quarantine"`

	Simulator struct {
		FailureRate     float64   `yaml:"failure_rate"`
		DelayDriftBps   quant.Bps `yaml:"delay_drift_bps"`
		MaxTradeLossBps quant.Bps `yaml:"max_trade_loss_bps"`
		Seed            int64     `yaml:"seed"`
	} `yaml:"simulator"`

	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv lets secrets stay out of the file on shared machines.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("AMARKTAI_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("AMARKTAI_LISTEN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AMARKTAI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8480"
	}
	if cfg.Pipeline.ExecTimeoutSec == 0 {
		cfg.Pipeline.ExecTimeoutSec = 10
	}
	if cfg.Pipeline.FeeGate.SlippageBufferBps == 0 && cfg.Pipeline.FeeGate.SafetyMarginBps == 0 {
		cfg.Pipeline.FeeGate = pipeline.DefaultFeeGateConfig()
	}
	if cfg.Pipeline.Limits.MaxTradesPerBotDay == 0 && cfg.Pipeline.Limits.BurstMax == 0 {
		def := pipeline.DefaultLimiterConfig()
		cfg.Pipeline.Limits.MaxTradesPerBotDay = def.MaxTradesPerBotDay
		cfg.Pipeline.Limits.MaxTradesPerUserDay = def.MaxTradesPerUserDay
		cfg.Pipeline.Limits.BurstMax = def.BurstMax
		cfg.Pipeline.Limits.BurstWindowSec = int(def.BurstWindow / time.Second)
	}
	if cfg.Breaker.MaxDailyLossBps == 0 {
		cfg.Breaker = risk.DefaultConfig()
	}
	if len(cfg.Quarantine.DurationsMinutes) == 0 {
		cfg.Quarantine.DurationsMinutes = []int{60, 180, 1440}
	}
	if cfg.Quarantine.ScanIntervalSec == 0 {
		cfg.Quarantine.ScanIntervalSec = 60
	}
	if cfg.Simulator.FailureRate == 0 && cfg.Simulator.MaxTradeLossBps == 0 {
		cfg.Simulator.FailureRate = 0.03
		cfg.Simulator.DelayDriftBps = 5
		cfg.Simulator.MaxTradeLossBps = 5000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Simulator.FailureRate < 0 || c.Simulator.FailureRate >= 1 {
		return fmt.Errorf("simulator failure_rate must be in [0,1): %v", c.Simulator.FailureRate)
	}
	if c.Pipeline.Limits.BurstMax < 0 {
		return fmt.Errorf("burst_max must not be negative")
	}
	for name, ex := range c.Exchanges {
		if ex.WSURL != "" && !strings.HasPrefix(ex.WSURL, "ws://") && !strings.HasPrefix(ex.WSURL, "wss://") {
			return fmt.Errorf("exchange %s: invalid WS URL: %s", name, ex.WSURL)
		}
		if ex.Fees.TakerBps < 0 || ex.Fees.MakerBps < 0 {
			return fmt.Errorf("exchange %s: negative fee bps", name)
		}
		for sym, r := range ex.SymbolRules {
			if r.MinQty < 0 || r.MinNotional < 0 || r.QtyStep < 0 || r.PriceTick < 0 {
				return fmt.Errorf("exchange %s symbol %s: negative rule value", name, sym)
			}
		}
	}
	for _, d := range c.Quarantine.DurationsMinutes {
		if d <= 0 {
			return fmt.Errorf("quarantine durations must be positive")
		}
	}
	return nil
}

// PipelineConfig assembles the gate settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		FeeGate: c.Pipeline.FeeGate,
		Limits: pipeline.LimiterConfig{
			MaxTradesPerBotDay:  c.Pipeline.Limits.MaxTradesPerBotDay,
			MaxTradesPerUserDay: c.Pipeline.Limits.MaxTradesPerUserDay,
			BurstMax:            c.Pipeline.Limits.BurstMax,
			BurstWindow:         time.Duration(c.Pipeline.Limits.BurstWindowSec) * time.Second,
		},
		ExecTimeout: time.Duration(c.Pipeline.ExecTimeoutSec) * time.Second,
	}
}

// QuarantineConfig assembles the escalation ladder.
func (c *Config) QuarantineConfig() quarantine.Config {
	durations := make([]time.Duration, len(c.Quarantine.DurationsMinutes))
	for i, m := range c.Quarantine.DurationsMinutes {
		durations[i] = time.Duration(m) * time.Minute
	}
	return quarantine.Config{
		Durations:    durations,
		ScanInterval: time.Duration(c.Quarantine.ScanIntervalSec) * time.Second,
	}
}

// FeeSchedule returns the taker-fee lookup the fee-coverage gate uses.
func (c *Config) FeeSchedule() pipeline.FeeSchedule {
	return func(exchange string) (quant.Bps, bool) {
		ex, ok := c.Exchanges[exchange]
		if !ok {
			return 0, false
		}
		return ex.Fees.TakerBps, true
	}
}
