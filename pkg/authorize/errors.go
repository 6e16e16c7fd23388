package authorize

import (
	"errors"
	"net/http"
)

// ErrorWithCode is an error that knows the HTTP status it should be rendered with.
type ErrorWithCode interface {
	error
	HTTPStatusCode() int
}

type errorWithCode struct {
	error
	code int
}

func NewErrorWithCode(err error, code int) ErrorWithCode {
	return errorWithCode{error: err, code: code}
}

func (e errorWithCode) HTTPStatusCode() int {
	return e.code
}

func (e errorWithCode) Unwrap() error {
	return e.error
}

// The messages of these errors are shown to callers and never say which part
// of a credential pair was wrong.
var (
	ErrMissingToken       = NewErrorWithCode(errors.New("Missing authentication token"), http.StatusUnauthorized)
	ErrInvalidToken       = NewErrorWithCode(errors.New("Invalid or expired token"), http.StatusUnauthorized)
	ErrInvalidCredentials = NewErrorWithCode(errors.New("Invalid credentials"), http.StatusUnauthorized)
)

// IsUnauthenticated reports whether err rejects the caller's credentials.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrInvalidCredentials)
}
