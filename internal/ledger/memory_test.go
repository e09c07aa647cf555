package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"acp-broker/internal/ledger"
)

func TestMemory_PayIsIdempotentPerJob(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	id := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	r1, err := l.Pay(ctx, id, 100, "0xseller")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	r2, err := l.Pay(ctx, id, 100, "0xseller")
	if err != nil {
		t.Fatalf("second pay: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("expected identical receipts, got %+v and %+v", r1, r2)
	}
	if _, err := l.Pay(ctx, id, 200, "0xseller"); !errors.Is(err, ledger.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
}

func TestMemory_ConfirmAfterPolls(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	l.ConfirmAfter = 2
	id := uuid.New()

	r, _ := l.Pay(ctx, id, 100, "0xseller")
	for i := 0; i < 2; i++ {
		ok, err := l.Confirm(ctx, r)
		if err != nil || ok {
			t.Fatalf("poll %d: expected unconfirmed, got ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := l.Confirm(ctx, r)
	if err != nil || !ok {
		t.Fatalf("expected confirmed, got ok=%v err=%v", ok, err)
	}

	bogus := r
	bogus.TxHash = "0xdead"
	if _, err := l.Confirm(ctx, bogus); !errors.Is(err, ledger.ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestMemory_SettleOnce(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	id := uuid.New()

	if err := l.Refund(ctx, id); !errors.Is(err, ledger.ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}

	_, _ = l.Pay(ctx, id, 100, "0xseller")
	if err := l.Refund(ctx, id); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if err := l.Refund(ctx, id); err != nil {
		t.Fatalf("repeated refund should be a no-op, got %v", err)
	}
	if err := l.Release(ctx, id); !errors.Is(err, ledger.ErrEscrowSettled) {
		t.Fatalf("expected ErrEscrowSettled, got %v", err)
	}

	e, err := l.Escrow(ctx, id)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if e.State != ledger.EscrowRefunded {
		t.Fatalf("expected refunded, got %s", e.State)
	}
}
