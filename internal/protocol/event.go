package protocol

import (
	"acp-broker/internal/entity"
)

type EventType string

const (
	EventAccept           EventType = "accept"
	EventReject           EventType = "reject"
	EventTimeout          EventType = "timeout"
	EventPaymentConfirmed EventType = "payment_confirmed"
	EventCancel           EventType = "cancel"
	EventDeliver          EventType = "deliver"
	EventApprove          EventType = "approve"
)

// Event is a request to move a job to its next phase. Only the fields the
// event type needs are read.
type Event struct {
	Type EventType `json:"type"`

	// ExpectedPhase is the phase the sender observed; empty skips the check.
	ExpectedPhase entity.Phase `json:"expected_phase,omitempty"`

	Price       int64               `json:"price,omitempty"`
	PaymentTx   string              `json:"tx,omitempty"`
	Deliverable *entity.Deliverable `json:"deliverable,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Party       string              `json:"party,omitempty"`
}

func Accept(observed entity.Phase, price int64) Event {
	return Event{Type: EventAccept, ExpectedPhase: observed, Price: price}
}

func Reject(observed entity.Phase, reason string) Event {
	return Event{Type: EventReject, ExpectedPhase: observed, Reason: reason}
}

func Timeout(observed entity.Phase) Event {
	return Event{Type: EventTimeout, ExpectedPhase: observed}
}

func PaymentConfirmed(observed entity.Phase, tx string) Event {
	return Event{Type: EventPaymentConfirmed, ExpectedPhase: observed, PaymentTx: tx}
}

func Cancel(observed entity.Phase, party, detail string) Event {
	return Event{Type: EventCancel, ExpectedPhase: observed, Party: party, Reason: detail}
}

func Deliver(observed entity.Phase, d entity.Deliverable) Event {
	return Event{Type: EventDeliver, ExpectedPhase: observed, Deliverable: &d}
}

func Approve(observed entity.Phase) Event {
	return Event{Type: EventApprove, ExpectedPhase: observed}
}
