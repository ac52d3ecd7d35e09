// Package pipeline is the single entry point for order execution. Every
// order, paper or live, passes the same gate sequence: idempotency,
// fee-coverage, trade limits, circuit breaker. There is no second path.
package pipeline

import "amarktai_core/internal/domain"

// Status is the terminal outcome of a submission.
type Status string

const (
	// StatusFilled: executed and durably recorded.
	StatusFilled Status = "filled"
	// StatusRejected: refused by a gate or the venue; nothing recorded.
	StatusRejected Status = "rejected"
	// StatusFatal: executed but not durably recorded. Requires operator
	// reconciliation before the bot trades again.
	StatusFatal Status = "fatal"
)

// Reason names why a submission did not fill.
type Reason string

const (
	ReasonDuplicateOrder   Reason = "duplicate_order"
	ReasonInsufficientEdge Reason = "insufficient_edge"
	ReasonLimitExceeded    Reason = "limit_exceeded"
	ReasonCircuitTripped   Reason = "circuit_tripped"
	ReasonValidationFailed Reason = "validation_failed"
	ReasonExecutionFailed  Reason = "execution_failed"
	ReasonAnomalyDetected  Reason = "anomaly_detected"
)

// Result is what Submit returns. Fill is non-nil only for StatusFilled.
type Result struct {
	Status Status       `json:"status"`
	Reason Reason       `json:"reason,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Fill   *domain.Fill `json:"fill,omitempty"`
}

func rejected(reason Reason, detail string) Result {
	return Result{Status: StatusRejected, Reason: reason, Detail: detail}
}
