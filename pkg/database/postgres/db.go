package pg

import (
	"context"
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/retry"
)

type txContextKey struct{}

type txContext struct {
	tx        *sqlx.Tx
	isolation sql.IsolationLevel
}

var (
	ErrAlreadyInTx = errors.New("already executing in existing db tx")
	ErrNotInTx     = errors.New("not executing in existing db tx")
)

const maxSerializationRetries = 5

// ExecuteRetryable retries fn while it fails with a serialization failure
func ExecuteRetryable(fn func() error) error {
	_, err := retry.Retry(
		fn,
		retry.Limit(maxSerializationRetries),
		func(_ uint, err error) bool {
			var pgErr *pgconn.PgError
			return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.SerializationFailure
		},
	)
	return err
}

// ExecuteTxWithinCtx executes a DB transaction that's scoped to a call to fn.
// The transaction is passed along with the context, and is committed or rolled
// back based on whether fn returns an error.
func ExecuteTxWithinCtx(ctx context.Context, db *sqlx.DB, isolation sql.IsolationLevel, fn func(context.Context) error) error {
	if ctx.Value(txContextKey{}) != nil {
		return ErrAlreadyInTx
	}

	isolation = normalizeIsolation(isolation)
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, txContextKey{}, &txContext{tx: tx, isolation: isolation})
	return finishTx(tx, fn(ctx))
}

// ExecuteInTx is meant for DB store implementations to execute an operation
// within the scope of a DB transaction. An existing transaction started by
// ExecuteTxWithinCtx is reused, in which case commit/rollback is left to it.
func ExecuteInTx(ctx context.Context, db *sqlx.DB, isolation sql.IsolationLevel, fn func(tx *sqlx.Tx) error) error {
	isolation = normalizeIsolation(isolation)

	existing, err := getTxFromCtx(ctx, isolation)
	switch err {
	case nil:
		return fn(existing)
	case ErrNotInTx:
	default:
		return err
	}

	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return err
	}
	return finishTx(tx, fn(tx))
}

func finishTx(tx *sqlx.Tx, err error) error {
	if err != nil {
		// Rollback is always required so sql.DB releases the connection
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return errors.Wrap(rollbackErr, "failed to rollback transaction")
		}
		return err
	}
	return tx.Commit()
}

func normalizeIsolation(isolation sql.IsolationLevel) sql.IsolationLevel {
	if isolation == sql.LevelDefault {
		return sql.LevelReadCommitted // Postgres default
	}
	return isolation
}

func getTxFromCtx(ctx context.Context, desiredIsolation sql.IsolationLevel) (*sqlx.Tx, error) {
	existing, ok := ctx.Value(txContextKey{}).(*txContext)
	if !ok {
		return nil, ErrNotInTx
	}

	if existing.isolation < desiredIsolation {
		return nil, errors.New("current tx doesn't meet isolation level requirements")
	}
	return existing.tx, nil
}
