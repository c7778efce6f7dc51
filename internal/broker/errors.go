package broker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a broker failure. Callers branch on the kind rather
// than matching message text.
type ErrorKind int

const (
	// KindTransient covers connectivity and 5xx failures worth retrying.
	KindTransient ErrorKind = iota
	// KindRateLimited means the broker asked us to back off.
	KindRateLimited
	// KindFatal covers rejections that retrying cannot fix (bad symbol,
	// insufficient funds, auth failure).
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the typed error every Broker implementation returns.
type Error struct {
	Kind ErrorKind
	Op   string // The failing operation, e.g. "submit_order"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a typed broker error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err. Unclassified errors are treated as
// transient so the retry path stays conservative.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the error is worth another attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}
