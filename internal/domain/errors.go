package domain

import (
	"errors"
	"fmt"
)

// Error codes used for stable API mapping.
const (
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeValidation       = "VALIDATION"
	CodeNotFound         = "NOT_FOUND"
	CodeRegistryWrite    = "REGISTRY_WRITE"
	CodeFetchConfig      = "FETCH_CONFIG"
	CodeFetchRateLimit   = "FETCH_RATE_LIMIT"
	CodeFetchFailure     = "FETCH_FAILURE"
	CodeStore            = "STORE"
)

// CodedError is a typed error carrying a stable code and a user-facing
// message.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ErrNotAuthenticated is returned by mutating operations invoked without an
// acting user.
var ErrNotAuthenticated = NewError(CodeNotAuthenticated, "not signed in", nil)

// CodeOf returns the code of the first CodedError in err's chain, or "".
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the user-facing message for err. Errors without a code
// get a generic message so internal details never leak.
func MessageOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}
	return "internal error"
}

// RequireUser fails fast when no acting user is present.
func RequireUser(u *User) error {
	if u == nil || u.ID == "" {
		return ErrNotAuthenticated
	}
	return nil
}
