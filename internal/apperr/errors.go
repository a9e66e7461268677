// Package apperr defines the relay's error taxonomy.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeAuth        = "AUTH"
	CodeValidation  = "VALIDATION"
	CodeUpstream    = "UPSTREAM"
	CodePersistence = "PERSISTENCE"
)

// Error carries a taxonomy code and the HTTP status it maps to.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, msg string, status int, err error) *Error {
	return &Error{Code: code, Message: msg, HTTPStatus: status, Err: err}
}

// Auth reports a bad or missing credential (webhook signature or carrier login).
func Auth(msg string, err error) *Error {
	return newError(CodeAuth, msg, http.StatusUnauthorized, err)
}

// Validation reports a malformed order.
func Validation(msg string) *Error {
	return newError(CodeValidation, msg, http.StatusUnprocessableEntity, nil)
}

// Upstream reports a carrier or geocoder failure.
func Upstream(msg string, err error) *Error {
	return newError(CodeUpstream, msg, http.StatusBadGateway, err)
}

// Persistence reports a store read or write failure.
func Persistence(msg string, err error) *Error {
	return newError(CodePersistence, msg, http.StatusInternalServerError, err)
}

// Is reports whether any error in err's chain is an *Error with the given code.
func Is(err error, code string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// Status returns the HTTP status for err, 500 when it is not an *Error.
func Status(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.HTTPStatus != 0 {
		return ae.HTTPStatus
	}
	return http.StatusInternalServerError
}
