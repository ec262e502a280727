package reliability

import (
	"context"
	"errors"
	"time"
)

// RecvErrorKind is the explicit classification the upstream receive
// primitive returns: a recoverable error keeps the session's event loop
// running, a fatal one ends it.
type RecvErrorKind int

const (
	RecvRecoverable RecvErrorKind = iota
	RecvFatal
	RecvCanceled
)

// RecvError wraps a receive failure with its classification.
type RecvError struct {
	Kind RecvErrorKind
	Err  error
}

func (e *RecvError) Error() string { return e.Err.Error() }
func (e *RecvError) Unwrap() error { return e.Err }

func Recoverable(err error) error { return &RecvError{Kind: RecvRecoverable, Err: err} }
func Fatal(err error) error       { return &RecvError{Kind: RecvFatal, Err: err} }

// ClassifyRecv reports how a receive error ends, defaulting to fatal:
// an unclassified failure on the upstream socket is a lost connection.
func ClassifyRecv(err error) RecvErrorKind {
	if err == nil {
		return RecvRecoverable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return RecvCanceled
	}
	var re *RecvError
	if errors.As(err, &re) {
		return re.Kind
	}
	return RecvFatal
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes seen on
// websocket dial rejection.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
