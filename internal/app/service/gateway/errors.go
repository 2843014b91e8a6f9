package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/fatflowers/settle/pkg/types"
)

// Error is a failed rail call. Retryable errors may succeed if the same
// operation is tried again later; permanent ones never will.
type Error struct {
	Rail       types.Rail
	Op         string
	Retryable  bool
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (%s, status=%d): %s", e.Rail, e.Op, kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s failed (%s): %s", e.Rail, e.Op, kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Permanent(rail types.Rail, op, format string, args ...any) *Error {
	return &Error{Rail: rail, Op: op, Message: fmt.Sprintf(format, args...)}
}

// FromStatus classifies a non-2xx provider response. 5xx, 408 and 429 are
// retryable; every other 4xx (bad currency, bad credentials) is permanent.
func FromStatus(rail types.Rail, op string, status int, message string) *Error {
	retryable := status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
	return &Error{Rail: rail, Op: op, Retryable: retryable, StatusCode: status, Message: message}
}

// Classify wraps a transport error. Timeouts, refused and reset connections
// are retryable. An *Error passes through unchanged.
func Classify(rail types.Rail, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return &Error{Rail: rail, Op: op, Retryable: isRetryableNetworkError(err) || isRetryableSystemError(err), Err: err}
}

// IsRetryable reports whether err is a retryable gateway error.
func IsRetryable(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Retryable
}

func isRetryableNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isRetryableSystemError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
