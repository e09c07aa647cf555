package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"acp-broker/internal/entity"
	"acp-broker/internal/repository"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, buyer, seller, offering, phase, version, requirements, price, payment_tx,
deliverable, evaluation, reason, settlement, created_at, updated_at, negotiated_at, paid_at, expires_at`

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) (uuid.UUID, error) {
	reqs, err := json.Marshal(job.Requirements)
	if err != nil {
		return uuid.Nil, err
	}

	const q = `
INSERT INTO jobs (buyer, seller, offering, phase, version, requirements, price, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q,
		job.Buyer, job.Seller, job.Offering, string(job.Phase), job.Version,
		reqs, job.Price, job.CreatedAt, job.ExpiresAt,
	).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// CompareAndSwap stores next only if the row still holds prevPhase at
// next.Version-1.
func (r *JobRepository) CompareAndSwap(ctx context.Context, next *entity.Job, prevPhase entity.Phase) error {
	var (
		deliverable []byte
		evaluation  []byte
		err         error
	)
	if next.Deliverable != nil {
		if deliverable, err = json.Marshal(next.Deliverable); err != nil {
			return err
		}
	}
	if next.Evaluation != nil {
		if evaluation, err = json.Marshal(next.Evaluation); err != nil {
			return err
		}
	}

	const q = `
UPDATE jobs SET
    phase = $4, version = $5, price = $6, payment_tx = NULLIF($7, ''),
    deliverable = $8, evaluation = $9, reason = NULLIF($10, ''), settlement = $11,
    updated_at = $12, negotiated_at = $13, paid_at = $14
WHERE id = $1 AND phase = $2 AND version = $3;
`
	tag, err := r.pool.Exec(ctx, q,
		next.ID, string(prevPhase), next.Version-1,
		string(next.Phase), next.Version, next.Price, next.PaymentTx,
		deliverable, evaluation, next.Reason, string(next.Settlement),
		next.UpdatedAt, next.NegotiatedAt, next.PaidAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, next.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrVersionConflict
}

func (r *JobRepository) List(ctx context.Context, f entity.JobFilter) ([]*entity.Job, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Buyer != "" {
		add("buyer = $%d", f.Buyer)
	}
	if f.Seller != "" {
		add("seller = $%d", f.Seller)
	}
	if len(f.Phases) > 0 {
		phases := make([]string, len(f.Phases))
		for i, p := range f.Phases {
			phases[i] = string(p)
		}
		add("phase = ANY($%d)", phases)
	}
	if f.Active {
		where = append(where, "phase NOT IN ('completed', 'rejected', 'expired')")
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	return r.query(ctx, q, args...)
}

func (r *JobRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs
WHERE phase NOT IN ('completed', 'rejected', 'expired') AND expires_at <= $1
ORDER BY expires_at LIMIT $2;`
	return r.query(ctx, q, now, limit)
}

func (r *JobRepository) ListUnsettled(ctx context.Context, limit int) ([]*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE settlement = 'pending' ORDER BY updated_at LIMIT $1;`
	return r.query(ctx, q, limit)
}

// ArchiveTerminal moves settled terminal jobs last touched before cutoff into
// jobs_archive.
func (r *JobRepository) ArchiveTerminal(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	const q = `
WITH moved AS (
    DELETE FROM jobs WHERE id IN (
        SELECT id FROM jobs
        WHERE phase IN ('completed', 'rejected', 'expired')
          AND settlement <> 'pending'
          AND updated_at < $1
        ORDER BY updated_at
        LIMIT $2
    )
    RETURNING *
)
INSERT INTO jobs_archive SELECT * FROM moved;
`
	tag, err := r.pool.Exec(ctx, q, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) query(ctx context.Context, q string, args ...any) ([]*entity.Job, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job        entity.Job
		phase      string
		settlement string
		reqBytes   []byte
		delivBytes []byte // NULL => nil
		evalBytes  []byte // NULL => nil
		paymentTx  *string
		reason     *string
	)
	if err := row.Scan(
		&job.ID,
		&job.Buyer,
		&job.Seller,
		&job.Offering,
		&phase,
		&job.Version,
		&reqBytes,
		&job.Price,
		&paymentTx,
		&delivBytes,
		&evalBytes,
		&reason,
		&settlement,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.NegotiatedAt,
		&job.PaidAt,
		&job.ExpiresAt,
	); err != nil {
		return nil, err
	}

	job.Phase = entity.Phase(phase)
	job.Settlement = entity.Settlement(settlement)
	if err := json.Unmarshal(reqBytes, &job.Requirements); err != nil {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	if delivBytes != nil {
		var d entity.Deliverable
		if err := json.Unmarshal(delivBytes, &d); err != nil {
			return nil, fmt.Errorf("decode deliverable: %w", err)
		}
		job.Deliverable = &d
	}
	if evalBytes != nil {
		var e entity.Evaluation
		if err := json.Unmarshal(evalBytes, &e); err != nil {
			return nil, fmt.Errorf("decode evaluation: %w", err)
		}
		job.Evaluation = &e
	}
	if paymentTx != nil {
		job.PaymentTx = *paymentTx
	}
	if reason != nil {
		job.Reason = *reason
	}
	return &job, nil
}
