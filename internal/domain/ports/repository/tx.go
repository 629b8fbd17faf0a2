package repository

import "context"

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories MUST accept nil and then run outside any transaction.
type Tx interface{}

// TransactionManager runs fn inside one store transaction, committing when fn
// returns nil and rolling back otherwise.
//
// USAGE
//
//	tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
//		if err := pointers.Lock(ctx, tx, key); err != nil {
//			return err
//		}
//		return entitlements.GrantItem(ctx, tx, userID, itemID, nil)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// UpsertFunc receives the current record (nil when absent) and returns the
// record to persist. Returning an error aborts the transaction; returning
// (nil, nil) leaves the record untouched.
type UpsertFunc[T any] func(current *T) (*T, error)
