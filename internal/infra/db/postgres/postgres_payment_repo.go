package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"immo-subscriptions/internal/domain"
	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentCols = `id, user_id, plan_id, subscription_id, amount, currency, rail, external_ref, idempotency_key, status, metadata, created_at, updated_at`

func (r *paymentRepo) Insert(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	const q = `
INSERT INTO payments (` + paymentCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`

	meta, err := encodeMeta(p.Metadata)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	_, err = execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.PlanID, p.SubscriptionID, p.Amount, p.Currency,
		string(p.Rail), p.ExternalRef, p.IdempotencyKey, string(p.Status), meta, p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

func (r *paymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	const q = `
UPDATE payments
   SET subscription_id=$2, external_ref=$3, status=$4, metadata=$5, updated_at=$6
 WHERE id=$1;`

	meta, err := encodeMeta(p.Metadata)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	tag, err := execSQL(ctx, r.pool, tx, q, p.ID, p.SubscriptionID, p.ExternalRef, string(p.Status), meta, p.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) DeleteUnacknowledged(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `DELETE FROM payments WHERE id=$1 AND status='pending' AND metadata->>'` + model.MetaRailOutcome + `' IS NULL;`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	q := forUpdate(`SELECT `+paymentCols+` FROM payments WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByIdempotencyKey(ctx context.Context, tx repository.Tx, userID, key string) (*model.PaymentRecord, error) {
	q := forUpdate(`SELECT `+paymentCols+` FROM payments WHERE user_id=$1 AND idempotency_key=$2`, tx)
	return r.queryOne(ctx, tx, q, userID, key)
}

func (r *paymentRepo) FindByExternalRef(ctx context.Context, tx repository.Tx, rail model.Rail, ref string) (*model.PaymentRecord, error) {
	q := forUpdate(`SELECT `+paymentCols+` FROM payments WHERE rail=$1 AND external_ref=$2`, tx)
	return r.queryOne(ctx, tx, q, string(rail), ref)
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2;`
	return r.queryMany(ctx, tx, q, userID, limit)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.queryMany(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) SumCompletedSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0)::BIGINT FROM payments WHERE status='completed' AND updated_at >= $1;`
	row, err := pickRow(ctx, r.pool, tx, q, since)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.PaymentRecord, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return p, nil
}

func (r *paymentRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PaymentRecord, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var (
		p            model.PaymentRecord
		rail, status string
		meta         []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.PlanID, &p.SubscriptionID, &p.Amount, &p.Currency, &rail,
		&p.ExternalRef, &p.IdempotencyKey, &status, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Rail = model.Rail(rail)
	p.Status = model.PaymentStatus(status)
	p.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func encodeMeta(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
