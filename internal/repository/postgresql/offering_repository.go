package postgresql

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"acp-broker/internal/entity"
)

type OfferingRepository struct {
	pool *pgxpool.Pool
}

func NewOfferingRepository(pool *pgxpool.Pool) *OfferingRepository {
	return &OfferingRepository{pool: pool}
}

func (r *OfferingRepository) Upsert(ctx context.Context, o *entity.Offering) error {
	const q = `
INSERT INTO offerings (seller, name, description, request_type, price, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (seller, name) DO UPDATE
SET description = EXCLUDED.description,
    request_type = EXCLUDED.request_type,
    price = EXCLUDED.price,
    updated_at = EXCLUDED.updated_at;
`
	_, err := r.pool.Exec(ctx, q, o.Seller, o.Name, o.Description, o.RequestType, o.Price, o.UpdatedAt)
	return err
}

// Search matches keyword against name and description, sellers with the most
// completed jobs first.
func (r *OfferingRepository) Search(ctx context.Context, keyword string, limit int) ([]*entity.Offering, error) {
	const q = `
SELECT o.seller, o.name, o.description, o.request_type, o.price, o.updated_at
FROM offerings o
LEFT JOIN LATERAL (
    SELECT count(*) AS completed FROM jobs j
    WHERE j.seller = o.seller AND j.phase = 'completed'
) c ON true
WHERE $1 = '' OR o.name ILIKE '%' || $1 || '%' OR o.description ILIKE '%' || $1 || '%'
ORDER BY c.completed DESC, o.updated_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, keyword, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Offering
	for rows.Next() {
		var o entity.Offering
		if err := rows.Scan(&o.Seller, &o.Name, &o.Description, &o.RequestType, &o.Price, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}
