package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Its concrete type is defined by the store
// implementation (pgx.Tx for Postgres, nil for the in-memory store).
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside a store transaction. A non-nil error from fn
// rolls the transaction back. Repositories accept a nil Tx as the
// non-transactional path.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
