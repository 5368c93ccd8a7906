package protocol

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/casklog/casklog"
)

// Error codes, shared with maelstrom's so replies pass through unchanged.
const (
	ErrTimeout                Error = 0
	ErrNotSupported           Error = 10
	ErrTemporarilyUnavailable Error = 11
	ErrMalformedRequest       Error = 12
	ErrCrash                  Error = 13
	ErrAbort                  Error = 14
	ErrKeyDoesNotExist        Error = 20
	ErrKeyAlreadyExists       Error = 21
	ErrPreconditionFailed     Error = 22
)

// Error represents a protocol err. It makes it so the errors can have their
// error code and description too.
type Error int

func (e Error) Error() string {
	switch e {
	case ErrTimeout:
		return "timeout"
	case ErrNotSupported:
		return "not supported"
	case ErrTemporarilyUnavailable:
		return "temporarily unavailable"
	case ErrMalformedRequest:
		return "malformed request"
	case ErrCrash:
		return "crash"
	case ErrAbort:
		return "abort"
	case ErrKeyDoesNotExist:
		return "key does not exist"
	case ErrKeyAlreadyExists:
		return "key already exists"
	case ErrPreconditionFailed:
		return "precondition failed"
	default:
		return fmt.Sprintf("error code %d not bound", int(e))
	}
}

// Retryable reports whether the client may safely send the request again.
func (e Error) Retryable() bool {
	return e == ErrTemporarilyUnavailable || e == ErrTimeout
}

// HTTPStatus is the status an HTTP reply carrying e uses.
func (e Error) HTTPStatus() int {
	switch e {
	case ErrMalformedRequest:
		return http.StatusBadRequest
	case ErrNotSupported:
		return http.StatusNotFound
	case ErrTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrCrash:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFor picks the code a broker error is reported with. Invalid requests
// are malformed, an exhausted retry budget is temporary, and anything
// touching an unreachable store is a crash since the node cannot serve
// until the store returns.
func ErrorFor(err error) Error {
	var perr Error
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, casklog.ErrInvalidRequest):
		return ErrMalformedRequest
	case errors.Is(err, casklog.ErrRetryBudgetExceeded):
		return ErrTemporarilyUnavailable
	default:
		return ErrCrash
	}
}

// NewErrorResponse returns the reply body reporting err.
func NewErrorResponse(err error) *ErrorResponse {
	return &ErrorResponse{Type: ErrorType, Code: ErrorFor(err), Text: err.Error()}
}
