package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("too many attempts")
	ErrClosed         = errors.New("closed")
)

// AuthError is returned by every session transition that fails: invalid
// credentials, duplicate registration, or an identity provider failure.
// Callers must not assume any part of the transition succeeded.
type AuthError struct {
	Op  string // "sign in", "sign up", "sign out", "restore"
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SubscriptionError records a failed or denied live subscription on a
// collection path. It is kept as the repository's LastError until the next
// successful snapshot.
type SubscriptionError struct {
	Path string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Path, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// PartialCascadeError reports a multi-document operation that failed midway
// and could not be undone, leaving Completed written while Failed was not.
// CompensationErr is nil when no compensating step was possible. Callers
// reconcile from these paths.
type PartialCascadeError struct {
	Op              string
	Completed       []string
	Failed          string
	Err             error
	CompensationErr error
}

func (e *PartialCascadeError) Error() string {
	if e.CompensationErr == nil {
		return fmt.Sprintf("%s: partial cascade (completed %v, failed %s): %v",
			e.Op, e.Completed, e.Failed, e.Err)
	}
	return fmt.Sprintf("%s: partial cascade (completed %v, failed %s): %v; compensation: %v",
		e.Op, e.Completed, e.Failed, e.Err, e.CompensationErr)
}

func (e *PartialCascadeError) Unwrap() error { return e.Err }
