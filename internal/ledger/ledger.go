// Package ledger is the client side of the payment escrow. Real on-chain
// settlement sits behind Ledger; the implementations here simulate an escrow
// contract for local runs and tests.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEscrowNotFound = errors.New("escrow not found")
	ErrEscrowSettled  = errors.New("escrow already settled")
	ErrAmountMismatch = errors.New("escrow amount mismatch")
)

type EscrowState string

const (
	EscrowHeld     EscrowState = "held"
	EscrowReleased EscrowState = "released"
	EscrowRefunded EscrowState = "refunded"
)

// Receipt identifies a payment into escrow for one job.
type Receipt struct {
	TxHash string    `json:"tx_hash"`
	JobID  uuid.UUID `json:"job_id"`
	Amount int64     `json:"amount"`
	Payee  string    `json:"payee"`
}

type Escrow struct {
	Receipt
	State  EscrowState `json:"state"`
	PaidAt time.Time   `json:"paid_at"`
}

type Ledger interface {
	// Pay escrows amount for jobID; paying twice for one job returns the
	// first receipt.
	Pay(ctx context.Context, jobID uuid.UUID, amount int64, payee string) (Receipt, error)
	// Confirm is an idempotent poll reporting whether the payment is final.
	Confirm(ctx context.Context, r Receipt) (bool, error)
	Release(ctx context.Context, jobID uuid.UUID) error
	Refund(ctx context.Context, jobID uuid.UUID) error
	Escrow(ctx context.Context, jobID uuid.UUID) (Escrow, error)
}

// Lookup finds the held escrow a receipt hash refers to. Receipts are stored
// on jobs by hash only.
func Lookup(ctx context.Context, l Ledger, jobID uuid.UUID, txHash string) (Receipt, error) {
	e, err := l.Escrow(ctx, jobID)
	if err != nil {
		return Receipt{}, err
	}
	if e.TxHash != txHash {
		return Receipt{}, ErrEscrowNotFound
	}
	if e.State != EscrowHeld {
		return Receipt{}, ErrEscrowSettled
	}
	return e.Receipt, nil
}

func txHash(jobID uuid.UUID) string {
	return "0x" + uuid.NewSHA1(uuid.NameSpaceOID, jobID[:]).String()
}
