package notifications

import "errors"

// Repository errors.
var (
	ErrChannelNotFound    = errors.New("notification channel not found")
	ErrInvalidChannelType = errors.New("invalid notification channel type")
)

// RetryableError classifies a delivery failure for the queue worker.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable reports whether the failure is worth another attempt.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError marks err as retryable.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError marks err as permanent.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// isRetryable asks the error itself when it knows, and retries by default
// when it does not.
func isRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
