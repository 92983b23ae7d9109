package apperr

import "errors"

// Kinds. Every coded error matches exactly one of these with errors.Is.
var (
	ErrValidation  = errors.New("validation_error")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not_found")
	ErrForbidden   = errors.New("forbidden")
	ErrUnavailable = errors.New("gateway_unavailable")
	ErrInternal    = errors.New("internal")
)

// Error is a client-facing error: Code is stable and safe to expose,
// Kind decides how the transport maps it.
type Error struct {
	Code    string
	Kind    error
	Message string
}

func New(kind error, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Is(target error) bool { return target == e.Kind }

// CodeOf returns the code of the first *Error in the chain, or "internal".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "internal"
}

// Retryable reports whether the caller may retry the operation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var ae *Error
	return !errors.As(err, &ae)
}
