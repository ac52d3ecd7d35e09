// Package exchange defines the execution boundary. The core is
// adapter-agnostic: the paper simulator and live exchange clients both
// implement Adapter, and the pipeline cannot tell them apart.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"amarktai_core/internal/domain"
	"amarktai_core/pkg/quant"
)

// Adapter executes orders and serves prices for one venue.
type Adapter interface {
	// Execute submits an order and returns the resulting fill.
	// Failures are *ExecError values classified by kind.
	Execute(ctx context.Context, intent domain.OrderIntent) (*domain.Fill, error)

	// FetchPrice returns the best-available price for a symbol.
	FetchPrice(ctx context.Context, symbol string) (quant.PriceMicros, error)
}

// ErrorKind classifies execution failures. The pipeline maps these onto
// its rejection taxonomy; callers decide retry policy per kind.
type ErrorKind string

const (
	// KindValidation: the order violates the venue's symbol rules.
	// Not recoverable without changing the order.
	KindValidation ErrorKind = "validation"
	// KindMarketReject: the venue refused the order (simulated or real).
	KindMarketReject ErrorKind = "market_reject"
	// KindAnomaly: the P&L sanity check flagged an impossible result.
	// Never silently recovered.
	KindAnomaly ErrorKind = "anomaly"
	// KindNoPrice: no market data available for the symbol.
	KindNoPrice ErrorKind = "no_price"
	// KindUnavailable: adapter error or timeout.
	KindUnavailable ErrorKind = "unavailable"
)

// ExecError is a classified execution failure.
type ExecError struct {
	Kind ErrorKind
	Msg  string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution failed (%s): %s", e.Kind, e.Msg)
}

// Errf builds a classified execution error.
func Errf(kind ErrorKind, format string, args ...any) *ExecError {
	return &ExecError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, defaulting to KindUnavailable for
// unclassified errors (timeouts, transport failures).
func KindOf(err error) ErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnavailable
}
