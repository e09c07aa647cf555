package postgresql_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"acp-broker/internal/entity"
	"acp-broker/internal/repository"
	"acp-broker/internal/repository/postgresql"
)

var t0 = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

// newPool connects to ACP_TEST_POSTGRES_DSN and empties the registry tables.
// Without the variable the test is skipped.
func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("ACP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ACP_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgresql.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgresql.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE jobs, jobs_archive, offerings;`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func create(t *testing.T, r *postgresql.JobRepository) *entity.Job {
	t.Helper()
	ctx := context.Background()
	id, err := r.Create(ctx, &entity.Job{
		Buyer:        "0xbuyer",
		Seller:       "0xseller",
		Offering:     "twitter_analysis",
		Phase:        entity.PhaseRequested,
		Version:      1,
		Requirements: entity.Requirements{Username: "elonmusk", RequestType: entity.RequestTypeTwitterAnalysis},
		CreatedAt:    t0,
		ExpiresAt:    t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	j, err := r.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return j
}

func TestJobRepository_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	r := postgresql.NewJobRepository(newPool(t))
	j := create(t, r)

	next := *j
	next.Phase = entity.PhaseNegotiating
	next.Version = j.Version + 1
	next.Price = 10
	next.UpdatedAt = t0.Add(time.Minute)
	if err := r.CompareAndSwap(ctx, &next, entity.PhaseRequested); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	// the loser of a race sees a conflict and the winner's row stays
	if err := r.CompareAndSwap(ctx, &next, entity.PhaseRequested); !errors.Is(err, repository.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	got, err := r.GetByID(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Phase != entity.PhaseNegotiating || got.Version != 2 || got.Price != 10 {
		t.Fatalf("unexpected stored job %+v", got)
	}

	missing := next
	missing.ID = uuid.New()
	if err := r.CompareAndSwap(ctx, &missing, entity.PhaseNegotiating); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobRepository_DeliverableRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := postgresql.NewJobRepository(newPool(t))
	j := create(t, r)

	next := *j
	next.Phase = entity.PhaseDelivered
	next.Version = j.Version + 1
	next.PaymentTx = "0xabc"
	next.Deliverable = &entity.Deliverable{Summary: "defi KOL", Metrics: map[string]any{"followers": float64(1200)}}
	if err := r.CompareAndSwap(ctx, &next, entity.PhaseRequested); err != nil {
		t.Fatalf("cas: %v", err)
	}

	got, err := r.GetByID(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentTx != "0xabc" || got.Deliverable == nil || got.Deliverable.Metrics["followers"] != float64(1200) {
		t.Fatalf("unexpected deliverable round trip %+v", got)
	}
	if got.Requirements.Username != "elonmusk" {
		t.Fatalf("expected requirements kept, got %+v", got.Requirements)
	}
}

func TestJobRepository_ExpiredAndArchive(t *testing.T) {
	ctx := context.Background()
	r := postgresql.NewJobRepository(newPool(t))
	active := create(t, r)
	done := create(t, r)

	next := *done
	next.Phase = entity.PhaseRejected
	next.Version = done.Version + 1
	next.UpdatedAt = t0
	if err := r.CompareAndSwap(ctx, &next, entity.PhaseRequested); err != nil {
		t.Fatalf("cas: %v", err)
	}

	expired, err := r.ListExpired(ctx, t0.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != active.ID {
		t.Fatalf("expected only the active job due, got %d jobs", len(expired))
	}

	n, err := r.ArchiveTerminal(ctx, t0.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 archived job, got %d", n)
	}
	if _, err := r.GetByID(ctx, done.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected archived job gone, got %v", err)
	}
}
