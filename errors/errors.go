package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Standard error codes
const (
	ErrInvalidRequest      = 400
	ErrUnauthorized        = 401
	ErrForbidden           = 403
	ErrNotFound            = 404
	ErrConflict            = 409
	ErrInternalServerError = 500
	ErrServiceUnavailable  = 503

	// Platform error codes (1000+)
	ErrKafkaError  = 1006
	ErrRedisError  = 1007
	ErrConfigError = 1008

	// Progressive error codes (2000+)
	ErrProgressiveIntegrity = 2001 // corrupted or inconsistent persisted progressive state
	ErrClaimSequence        = 2002 // claim lifecycle transition attempted out of order
	ErrNotSupported         = 2003 // calculator strategy does not implement the operation
	ErrLevelNotFound        = 2004
	ErrInvalidAssignment    = 2005
	ErrMissingMagicNumber   = 2006
	ErrStorage              = 2007
	ErrTransactionNotFound  = 2008
)

var httpStatus = map[int]int{
	ErrInvalidRequest:      http.StatusBadRequest,
	ErrInvalidAssignment:   http.StatusBadRequest,
	ErrUnauthorized:        http.StatusUnauthorized,
	ErrForbidden:           http.StatusForbidden,
	ErrNotFound:            http.StatusNotFound,
	ErrLevelNotFound:       http.StatusNotFound,
	ErrTransactionNotFound: http.StatusNotFound,
	ErrConflict:            http.StatusConflict,
	ErrClaimSequence:       http.StatusConflict,
	ErrNotSupported:        http.StatusUnprocessableEntity,
	ErrServiceUnavailable:  http.StatusServiceUnavailable,
	ErrKafkaError:          http.StatusServiceUnavailable,
	ErrRedisError:          http.StatusServiceUnavailable,
}

// AppError carries a code, a client-safe message and optional debug detail
type AppError struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	DebugMessage string `json:"debug_message,omitempty"`
	Err          error  `json:"-"`
}

func (e *AppError) Error() string {
	switch {
	case e.DebugMessage != "":
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.DebugMessage)
	case e.Err != nil:
		return fmt.Sprintf("[%d] %s [%v]", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code, so
// errors.Is(err, apperrors.New(apperrors.ErrClaimSequence, "")) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code int, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

func NewWithDebug(code int, message, debugMessage string) *AppError {
	return &AppError{Code: code, Message: message, DebugMessage: debugMessage}
}

// Wrap keeps err as the cause
func Wrap(err error, code int, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func WrapWithDebug(err error, code int, message, debugMessage string) *AppError {
	return &AppError{Code: code, Message: message, DebugMessage: debugMessage, Err: err}
}

// GetCode returns the first AppError code in the chain; other errors are internal, nil is 0.
func GetCode(err error) int {
	if err == nil {
		return 0
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternalServerError
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code int) bool {
	return stderrors.Is(err, &AppError{Code: code})
}

// IsFatal reports corrupted progressive state that must escalate to an operator lockup
// instead of being retried.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case ErrProgressiveIntegrity, ErrMissingMagicNumber, ErrInvalidAssignment, ErrClaimSequence:
		return true
	default:
		return false
	}
}

// HTTPStatusFromCode maps error codes to HTTP status codes; unmapped codes are 500.
func HTTPStatusFromCode(code int) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
