package postgres

import (
	"context"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/vecmem/store"
)

// PostgreSQL error codes the driver reacts to.
const (
	codeUndefinedTable  = "42P01"
	codeDuplicateTable  = "42P07"
	codeUniqueViolation = "23505"
	codeQueryCanceled   = "57014"
)

// translateError maps err to the store error model. A done context always
// wins; a missing table means the collection does not exist.
func translateError(ctx context.Context, op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return store.NewBackendError(ctx, op, collection, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUndefinedTable:
			return store.NotFoundError(op, collection)
		case codeQueryCanceled:
			return errors.Wrapf(context.Canceled, "%s %q: %s", op, collection, pqErr.Message)
		}
	}
	return store.NewBackendError(ctx, op, collection, err)
}

// isAlreadyExists reports the errors a concurrent CREATE ... IF NOT EXISTS can
// still raise when another session wins the race.
func isAlreadyExists(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeDuplicateTable || pqErr.Code == codeUniqueViolation
}
