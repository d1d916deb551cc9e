package engine

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a uniqueness conflict (entry id, source url or name).
	ErrAlreadyExists = errors.New("already exists")
	// ErrRetryable marks transient failures the worker may retry.
	ErrRetryable = errors.New("retryable")
	// ErrNoParser is returned when a source's parser type has no registered handler.
	ErrNoParser = errors.New("no parser registered")
	// ErrQueueClosed is returned by queues after shutdown once drained.
	ErrQueueClosed = errors.New("queue closed")
	// ErrStatusChanged is returned by conditional status updates when the
	// record is no longer in the expected status.
	ErrStatusChanged = errors.New("status changed concurrently")
)

// Retryable wraps err so that errors.Is(err, ErrRetryable) reports true.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked as transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() []error { return []error{ErrRetryable, e.err} }
