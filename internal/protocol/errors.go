package protocol

import (
	"errors"
	"fmt"

	"acp-broker/internal/entity"
)

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrStaleState          = errors.New("stale job state")
	ErrTerminalJob         = errors.New("job is terminal")
	ErrJobNotFound         = errors.New("job not found")
	ErrInvalidRequirements = errors.New("invalid requirements")
	ErrDeliverableInvalid  = errors.New("deliverable invalid")
	ErrDeliveryFailed      = errors.New("delivery failed")
	ErrLedger              = errors.New("ledger error")
	ErrPaymentUnverified   = errors.New("payment not verified")
)

// TransitionError reports an event the state machine refused.
type TransitionError struct {
	Phase entity.Phase
	Event EventType
	Err   error
	// Detail is set for malformed event payloads.
	Detail string
}

func (e *TransitionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: %s in phase %s: %s", e.Err, e.Event, e.Phase, e.Detail)
	}
	return fmt.Sprintf("%v: %s in phase %s", e.Err, e.Event, e.Phase)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Reason codes recorded on terminated jobs.
const (
	ReasonInvalidRequirements = "invalid_requirements"
	ReasonDeliveryFailed      = "delivery_failed"
	ReasonDeliverableInvalid  = "deliverable_invalid"
	ReasonExpired             = "expired"
)

// Reason formats a terminal reason as "<code>: <detail>".
func Reason(code, detail string) string {
	if detail == "" {
		return code
	}
	return code + ": " + detail
}

// CancelledBy is the reason recorded when a party abandons a job.
func CancelledBy(party, detail string) string {
	return Reason("cancelled by "+party, detail)
}
