package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument is returned when a caller-supplied argument fails validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when an operation targets a collection that does not exist.
	// A missing key inside an existing collection is never reported with this error.
	ErrNotFound = errors.New("collection not found")

	// ErrBackend is matched by every error that originates in the storage backend.
	ErrBackend = errors.New("backend failure")
)

// BackendError wraps a storage backend error with the operation and collection it came from.
type BackendError struct {
	Op         string
	Collection string
	Err        error
}

func (e *BackendError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Collection, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports ErrBackend as a match so callers can classify without a type assertion.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

// NewBackendError classifies err for op on collection.
// Cancellation of ctx wins over whatever the driver reported, so that callers
// always see context.Canceled or context.DeadlineExceeded for aborted calls.
func NewBackendError(ctx context.Context, op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrapf(ctxErr, "%s %q", op, collection)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(err, "%s %q", op, collection)
	}
	return &BackendError{Op: op, Collection: collection, Err: err}
}

// NotFoundError reports that collection does not exist.
func NotFoundError(op, collection string) error {
	return errors.Wrapf(ErrNotFound, "%s %q", op, collection)
}

func invalidArgument(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// IsCanceled reports whether err is the result of a canceled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
