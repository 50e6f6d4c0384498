package postgres

import (
	"context"
	"fmt"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Ensure interface compliance
var _ repository.PlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	const sql = `
INSERT INTO subscription_plans (id, name, duration_days, price, currency, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
  SET name          = EXCLUDED.name,
      duration_days = EXCLUDED.duration_days,
      price         = EXCLUDED.price,
      currency      = EXCLUDED.currency;
`
	_, err := execSQL(ctx, r.pool, tx, sql,
		plan.ID, plan.Name, plan.DurationDays, plan.Price, plan.Currency, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Save plan: %w", mapWriteErr(err))
	}
	return nil
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	const sql = `
SELECT id, name, duration_days, price, currency, created_at
  FROM subscription_plans
 WHERE id = $1;
`
	row, err := pickRow(ctx, r.pool, tx, sql, id)
	if err != nil {
		return nil, err
	}
	var p model.Plan
	if err := row.Scan(&p.ID, &p.Name, &p.DurationDays, &p.Price, &p.Currency, &p.CreatedAt); err != nil {
		return nil, mapReadErr(err)
	}
	return &p, nil
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	const sql = `
SELECT id, name, duration_days, price, currency, created_at
  FROM subscription_plans
 ORDER BY price ASC;
`
	rows, err := queryRows(ctx, r.pool, tx, sql)
	if err != nil {
		return nil, fmt.Errorf("ListAll plans: %w", domain.ErrOperationFailed)
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		var p model.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.DurationDays, &p.Price, &p.Currency, &p.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAll plans: %w", domain.ErrOperationFailed)
	}
	return out, nil
}

func (r *PostgresPlanRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	const sql = `DELETE FROM subscription_plans WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, sql, id)
	if err != nil {
		return fmt.Errorf("Delete plan: %w", mapWriteErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
