package pipeline

import (
	"fmt"

	"amarktai_core/internal/domain"
	"amarktai_core/pkg/quant"
)

// FeeGateConfig parameterizes the fee-coverage gate.
type FeeGateConfig struct {
	// SlippageBufferBps is the assumed execution slippage added on top of
	// the venue's fee when judging edge.
	SlippageBufferBps quant.Bps `yaml:"slippage_buffer_bps"`
	// SafetyMarginBps is the extra edge required beyond break-even.
	SafetyMarginBps quant.Bps `yaml:"safety_margin_bps"`
}

// DefaultFeeGateConfig matches the paper simulator's worst common tier.
func DefaultFeeGateConfig() FeeGateConfig {
	return FeeGateConfig{SlippageBufferBps: 5, SafetyMarginBps: 2}
}

// feeGate refuses orders whose expected edge cannot cover the venue fee
// plus slippage. A bot that trades below its cost floor bleeds capital in
// small cuts no breaker condition catches.
type feeGate struct {
	cfg  FeeGateConfig
	fees func(exchange string) (taker quant.Bps, ok bool)
}

func (g *feeGate) check(intent *domain.OrderIntent) error {
	taker, ok := g.fees(intent.Exchange)
	if !ok {
		return fmt.Errorf("no fee schedule for exchange %q", intent.Exchange)
	}
	required := taker + g.cfg.SlippageBufferBps + g.cfg.SafetyMarginBps
	if intent.ExpectedEdgeBps < required {
		return fmt.Errorf("expected edge %d bps below required %d bps", intent.ExpectedEdgeBps, required)
	}
	return nil
}
