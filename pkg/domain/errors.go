package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrEmptyBody      = NewErr("EMPTY_BODY", "missing upload body", http.StatusBadRequest)
	ErrTooSmall       = NewErr("TOO_SMALL", "content too small", http.StatusBadRequest)
	ErrTooLarge       = NewErr("TOO_LARGE", "content too large", http.StatusRequestEntityTooLarge)
	ErrNotFound       = NewErr("NOT_FOUND", "not found", http.StatusNotFound)
	ErrInvalidRequest = NewErr("INVALID_REQUEST", "invalid request", http.StatusForbidden)
	ErrRateLimited    = NewErr("RATE_LIMITED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternal       = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string
	Msg    string
	Status int
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// AsErr returns the client-facing error carried by err, or ErrInternal when
// err is a backend fault.
func AsErr(err error) *Err {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Err); ok {
		return e
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e
	}
	return ErrInternal
}
func Status(err error) int {
	return AsErr(err).Status
}
func IsValidation(err error) bool {
	e := AsErr(err)
	return e == ErrEmptyBody || e == ErrTooSmall || e == ErrTooLarge
}
