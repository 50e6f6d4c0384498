package repository

import (
	"context"
	"time"

	"immo-subscriptions/internal/domain/model"
)

// PaymentRepository is the port for payment records. Methods that receive a
// pgx transaction as tx lock the rows they read (SELECT ... FOR UPDATE).
type PaymentRepository interface {
	// Insert returns domain.ErrAlreadyExists when the (user, idempotency key)
	// or (rail, external ref) uniqueness is violated.
	Insert(ctx context.Context, tx Tx, p *model.PaymentRecord) error
	Update(ctx context.Context, tx Tx, p *model.PaymentRecord) error
	// DeleteUnacknowledged removes a pending record whose rail outcome was
	// never recorded (see model.MetaRailOutcome). An external reference alone
	// does not protect the row. Reports whether a row was removed.
	DeleteUnacknowledged(ctx context.Context, tx Tx, id string) (bool, error)

	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentRecord, error)
	FindByIdempotencyKey(ctx context.Context, tx Tx, userID, key string) (*model.PaymentRecord, error)
	FindByExternalRef(ctx context.Context, tx Tx, rail model.Rail, ref string) (*model.PaymentRecord, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.PaymentRecord, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
	SumCompletedSince(ctx context.Context, tx Tx, since time.Time) (int64, error)
}
