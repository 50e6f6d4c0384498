package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionCols = `id, user_id, plan_id, status, price, payment_method, started_at, current_period_end, canceled_at, created_at, updated_at`

// Save upserts s. A second Trial/Active row for the same user violates
// subscriptions_one_current_per_user and yields domain.ErrAlreadyExists.
func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  plan_id=$3, status=$4, price=$5, payment_method=$6, current_period_end=$8, canceled_at=$9, updated_at=$11;`

	var method *string
	if s.PaymentMethod != nil {
		m := string(*s.PaymentMethod)
		method = &m
	}
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.PlanID, string(s.Status), s.Price, method,
		s.StartedAt, s.CurrentPeriodEnd, s.CanceledAt, s.CreatedAt, s.UpdatedAt)
	return mapWriteErr(err)
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionCols+` FROM subscriptions WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindCurrentByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subscriptionCols+` FROM subscriptions WHERE user_id=$1 AND status IN ('trial','active')`, tx)
	return r.queryOne(ctx, tx, q, userID)
}

func (r *subscriptionRepo) CountByUser(ctx context.Context, tx repository.Tx, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM subscriptions WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *subscriptionRepo) ListLapsed(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + subscriptionCols + `
  FROM subscriptions
 WHERE status IN ('trial','active') AND current_period_end <= $1
 ORDER BY current_period_end ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.SubscriptionStatus(status)] = n
	}
	return out, rows.Err()
}

// LockUser takes a transaction-scoped advisory lock keyed by user id.
func (r *subscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		return domain.ErrInvalidExecContext
	}
	if _, err := ptx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, hashToInt64(userID)); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return s, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		s      model.Subscription
		status string
		method *string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &status, &s.Price, &method, &s.StartedAt,
		&s.CurrentPeriodEnd, &s.CanceledAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	if method != nil {
		m := model.Rail(*method)
		s.PaymentMethod = &m
	}
	return &s, nil
}
