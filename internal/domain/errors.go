package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoAccessToken       = errors.New("no broker access token")
	ErrConnectInProgress   = errors.New("connection already in progress")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnknownSubscription = errors.New("unknown subscription handle")
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors lists every violation found in one validation pass.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns the first error reported for field.
func (v ValidationErrors) Field(field string) (FieldError, bool) {
	for _, fe := range v {
		if fe.Field == field {
			return fe, true
		}
	}
	return FieldError{}, false
}

// Has reports whether field failed with code.
func (v ValidationErrors) Has(field, code string) bool {
	for _, fe := range v {
		if fe.Field == field && fe.Code == code {
			return true
		}
	}
	return false
}

// AuthErrorKind classifies broker authentication failures.
type AuthErrorKind int

const (
	AuthInvalidCode AuthErrorKind = iota + 1
	AuthNetwork
	AuthExpiredToken
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthInvalidCode:
		return "invalid_code"
	case AuthNetwork:
		return "network"
	case AuthExpiredToken:
		return "expired_token"
	default:
		return "unknown"
	}
}

// AuthError is returned by token exchange and authenticated broker calls.
type AuthError struct {
	Kind AuthErrorKind
	Op   string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth %s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("auth %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthKind reports whether err carries an AuthError of the given kind.
func IsAuthKind(err error, kind AuthErrorKind) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == kind
}

// DecryptionError means a ciphertext is corrupt or sealed under another key.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err == nil {
		return "decrypt: " + e.Reason
	}
	return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// ConnectionError is a failed stream connect or handshake.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IllegalStateError is an out-of-order call, e.g. attaching a token with no session.
type IllegalStateError struct {
	Op    string
	State string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state: %s not allowed in state %s", e.Op, e.State)
}
