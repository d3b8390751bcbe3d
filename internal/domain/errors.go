package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRateLimited   = errors.New("rate limited")
)

// IdentityError reports that an anonymous principal could not be acquired.
type IdentityError struct {
	Err error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("acquire principal: %v", e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// ProfileStoreError reports a failed read, create or patch against the
// profile store. Op is one of "get", "create" or "patch".
type ProfileStoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *ProfileStoreError) Error() string {
	return fmt.Sprintf("profile store %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *ProfileStoreError) Unwrap() error { return e.Err }
