// Package protocol holds the job-phase state machine shared by the registry
// and both agents.
package protocol

import (
	"time"

	"acp-broker/internal/entity"
)

// legal lists the events each non-terminal phase accepts.
var legal = map[entity.Phase]map[EventType]entity.Phase{
	entity.PhaseRequested: {
		EventAccept:  entity.PhaseNegotiating,
		EventReject:  entity.PhaseRejected,
		EventCancel:  entity.PhaseRejected,
		EventTimeout: entity.PhaseExpired,
	},
	entity.PhaseNegotiating: {
		EventPaymentConfirmed: entity.PhasePaid,
		EventCancel:           entity.PhaseRejected,
		EventTimeout:          entity.PhaseExpired,
	},
	entity.PhasePaid: {
		EventDeliver: entity.PhaseDelivered,
		EventReject:  entity.PhaseRejected,
		EventCancel:  entity.PhaseRejected,
		EventTimeout: entity.PhaseExpired,
	},
	entity.PhaseDelivered: {
		EventApprove: entity.PhaseCompleted,
		EventReject:  entity.PhaseRejected,
		EventCancel:  entity.PhaseRejected,
		EventTimeout: entity.PhaseExpired,
	},
}

// Next reports the phase ev leads to from p, if legal.
func Next(p entity.Phase, ev EventType) (entity.Phase, bool) {
	next, ok := legal[p][ev]
	return next, ok
}

// Apply returns the job that results from ev. The input job is never
// modified; on error the returned job equals the input.
func Apply(job entity.Job, ev Event, now time.Time) (entity.Job, error) {
	if job.Phase.Terminal() {
		return job, &TransitionError{Phase: job.Phase, Event: ev.Type, Err: ErrTerminalJob}
	}
	if ev.ExpectedPhase != "" && ev.ExpectedPhase != job.Phase {
		return job, &TransitionError{
			Phase: job.Phase, Event: ev.Type, Err: ErrStaleState,
			Detail: "observed " + string(ev.ExpectedPhase),
		}
	}
	next, ok := Next(job.Phase, ev.Type)
	if !ok {
		return job, &TransitionError{Phase: job.Phase, Event: ev.Type, Err: ErrInvalidTransition}
	}
	if detail := checkPayload(ev); detail != "" {
		return job, &TransitionError{Phase: job.Phase, Event: ev.Type, Err: ErrInvalidTransition, Detail: detail}
	}

	out := job.Clone()
	out.Phase = next
	out.Version = job.Version + 1
	out.UpdatedAt = now

	switch ev.Type {
	case EventAccept:
		out.Price = ev.Price
		t := now
		out.NegotiatedAt = &t
	case EventPaymentConfirmed:
		out.PaymentTx = ev.PaymentTx
		t := now
		out.PaidAt = &t
	case EventDeliver:
		d := ev.Deliverable.Clone()
		out.Deliverable = &d
	case EventApprove:
		out.Evaluation = &entity.Evaluation{Approved: true, Reason: ev.Reason}
	case EventReject:
		out.Reason = ev.Reason
		if job.Phase == entity.PhaseDelivered {
			out.Evaluation = &entity.Evaluation{Approved: false, Reason: ev.Reason}
		}
	case EventCancel:
		out.Reason = CancelledBy(ev.Party, ev.Reason)
	case EventTimeout:
		out.Reason = ReasonExpired
	}

	if out.Phase.Terminal() && out.PaymentTx != "" && out.Settlement == entity.SettlementNone {
		out.Settlement = entity.SettlementPending
	}
	return out, nil
}

func checkPayload(ev Event) string {
	switch ev.Type {
	case EventAccept:
		if ev.Price <= 0 {
			return "price must be positive"
		}
	case EventPaymentConfirmed:
		if ev.PaymentTx == "" {
			return "payment receipt is required"
		}
	case EventDeliver:
		if ev.Deliverable == nil || ev.Deliverable.Empty() {
			return "deliverable is required"
		}
	case EventCancel:
		if ev.Party == "" {
			return "cancelling party is required"
		}
	case EventReject:
		if ev.Reason == "" {
			return "reason is required"
		}
	}
	return ""
}
