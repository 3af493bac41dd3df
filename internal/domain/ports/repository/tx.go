package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle; the concrete type is infra-defined
// (pgx.Tx for Postgres). Store methods accept nil to run outside a transaction.
type Tx interface{}

// TransactionManager runs fn inside a database transaction. fn's error rolls
// the transaction back; a nil return commits it.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
