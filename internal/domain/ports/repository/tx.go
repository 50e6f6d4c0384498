package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. The concrete type is infra-defined
// (pgx.Tx for Postgres); repositories MUST accept nil (non-transactional path).
type Tx interface{}

var NoTX interface{}

// TransactionManager executes fn within a database transaction, passing the
// handle via tx. Returning an error from fn rolls everything back, so ledger
// writes either all land or none do.
//
// USAGE
// tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
// p, err := payments.FindByID(ctx, tx, id) // row locked FOR UPDATE
// ...
// return payments.Update(ctx, tx, p)
// })
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
