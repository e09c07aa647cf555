package entity

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
)

type Phase string

const (
	PhaseRequested   Phase = "requested"
	PhaseNegotiating Phase = "negotiating"
	PhasePaid        Phase = "paid"
	PhaseDelivered   Phase = "delivered"
	// PhaseEvaluated only ranks the ordering; APPROVE goes DELIVERED -> COMPLETED.
	PhaseEvaluated Phase = "evaluated"
	PhaseCompleted Phase = "completed"
	PhaseRejected  Phase = "rejected"
	PhaseExpired   Phase = "expired"
)

var phaseRank = map[Phase]int{
	PhaseRequested:   0,
	PhaseNegotiating: 1,
	PhasePaid:        2,
	PhaseDelivered:   3,
	PhaseEvaluated:   4,
	PhaseCompleted:   5,
	PhaseRejected:    6,
	PhaseExpired:     6,
}

// Rank orders phases along the lifecycle. Unknown phases rank -1.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

func (p Phase) Valid() bool { return p.Rank() >= 0 }

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseRejected || p == PhaseExpired
}

// AtLeast reports whether p is at or past q along the non-terminal ordering.
func (p Phase) AtLeast(q Phase) bool {
	return p.Rank() >= q.Rank()
}

type Settlement string

const (
	SettlementNone     Settlement = ""
	SettlementPending  Settlement = "pending"
	SettlementReleased Settlement = "released"
	SettlementRefunded Settlement = "refunded"
)

type Evaluation struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

type Job struct {
	ID           uuid.UUID    `json:"id"`
	Buyer        string       `json:"buyer"`
	Seller       string       `json:"seller"`
	Offering     string       `json:"offering"`
	Phase        Phase        `json:"phase"`
	Version      int          `json:"version"`
	Requirements Requirements `json:"requirements"`
	Price        int64        `json:"price"`
	PaymentTx    string       `json:"payment_tx,omitempty"`
	Deliverable  *Deliverable `json:"deliverable,omitempty"`
	Evaluation   *Evaluation  `json:"evaluation,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Settlement   Settlement   `json:"settlement,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	NegotiatedAt *time.Time `json:"negotiated_at,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// Clone returns a deep copy so state transitions never alias the caller's job.
func (j Job) Clone() Job {
	out := j
	if j.Deliverable != nil {
		d := j.Deliverable.Clone()
		out.Deliverable = &d
	}
	if j.Evaluation != nil {
		e := *j.Evaluation
		out.Evaluation = &e
	}
	if j.NegotiatedAt != nil {
		t := *j.NegotiatedAt
		out.NegotiatedAt = &t
	}
	if j.PaidAt != nil {
		t := *j.PaidAt
		out.PaidAt = &t
	}
	return out
}

func (j *Job) Expired(now time.Time) bool {
	return !j.Phase.Terminal() && !j.ExpiresAt.IsZero() && !now.Before(j.ExpiresAt)
}

// JobFilter narrows List queries. Zero values match everything.
type JobFilter struct {
	Buyer  string
	Seller string
	Phases []Phase
	// Active restricts the result to non-terminal phases.
	Active bool
	Limit  int
}

func (f JobFilter) Matches(j *Job) bool {
	if f.Buyer != "" && j.Buyer != f.Buyer {
		return false
	}
	if f.Seller != "" && j.Seller != f.Seller {
		return false
	}
	if f.Active && j.Phase.Terminal() {
		return false
	}
	if len(f.Phases) > 0 {
		for _, p := range f.Phases {
			if j.Phase == p {
				return true
			}
		}
		return false
	}
	return true
}

// Deliverable is the analysis payload attached at DELIVERED.
type Deliverable struct {
	Summary string          `json:"summary"`
	Metrics map[string]any  `json:"metrics,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

func (d Deliverable) Clone() Deliverable {
	out := Deliverable{Summary: d.Summary}
	if d.Metrics != nil {
		out.Metrics = deepCopy(reflect.ValueOf(d.Metrics)).Interface().(map[string]any)
	}
	if d.Raw != nil {
		out.Raw = append(json.RawMessage(nil), d.Raw...)
	}
	return out
}

// deepCopy copies maps, slices and the interfaces wrapping them; any other
// value (numbers incl. NaN, strings, pointers) is copied as is.
func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCopy(v.Elem()))
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	default:
		return v
	}
}

func (d Deliverable) Empty() bool {
	return d.Summary == "" && len(d.Raw) == 0
}
