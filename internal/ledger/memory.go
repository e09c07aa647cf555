package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process escrow. Payments confirm after ConfirmAfter polls.
type Memory struct {
	mu      sync.Mutex
	escrows map[uuid.UUID]*memEscrow

	ConfirmAfter int
	// PayErr / ConfirmErr inject failures.
	PayErr     error
	ConfirmErr error
	Now        func() time.Time
}

type memEscrow struct {
	Escrow
	polls int
}

func NewMemory() *Memory {
	return &Memory{escrows: map[uuid.UUID]*memEscrow{}}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Memory) Pay(ctx context.Context, jobID uuid.UUID, amount int64, payee string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PayErr != nil {
		return Receipt{}, m.PayErr
	}
	if e, ok := m.escrows[jobID]; ok {
		if e.Amount != amount {
			return Receipt{}, ErrAmountMismatch
		}
		return e.Receipt, nil
	}
	r := Receipt{TxHash: txHash(jobID), JobID: jobID, Amount: amount, Payee: payee}
	m.escrows[jobID] = &memEscrow{Escrow: Escrow{Receipt: r, State: EscrowHeld, PaidAt: m.now()}}
	return r, nil
}

func (m *Memory) Confirm(ctx context.Context, r Receipt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ConfirmErr != nil {
		return false, m.ConfirmErr
	}
	e, ok := m.escrows[r.JobID]
	if !ok || e.TxHash != r.TxHash {
		return false, ErrEscrowNotFound
	}
	e.polls++
	return e.polls > m.ConfirmAfter, nil
}

func (m *Memory) Release(ctx context.Context, jobID uuid.UUID) error {
	return m.settle(jobID, EscrowReleased)
}

func (m *Memory) Refund(ctx context.Context, jobID uuid.UUID) error {
	return m.settle(jobID, EscrowRefunded)
}

func (m *Memory) settle(jobID uuid.UUID, to EscrowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[jobID]
	if !ok {
		return ErrEscrowNotFound
	}
	if e.State == to {
		return nil
	}
	if e.State != EscrowHeld {
		return ErrEscrowSettled
	}
	e.State = to
	return nil
}

func (m *Memory) Escrow(ctx context.Context, jobID uuid.UUID) (Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[jobID]
	if !ok {
		return Escrow{}, ErrEscrowNotFound
	}
	return e.Escrow, nil
}
