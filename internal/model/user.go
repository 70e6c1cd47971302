// Package model defines the domain types and store contracts shared by
// handlers and repositories.
package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups when no matching user exists.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateEmail is returned by Create when the normalized email is
// already registered. Callers use errors.Is to turn it into a redirect
// marker instead of a generic failure.
var ErrDuplicateEmail = errors.New("email already registered")

// User represents a row in the users table. PasswordHash always holds a
// bcrypt digest, never plaintext.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// UserUpdate carries the editable fields of a user record.
type UserUpdate struct {
	Name string
	Role string
}

// UserStore is the persistence contract for user records. Implementations
// must enforce uniqueness of the normalized email.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id uuid.UUID) (User, error)
	FindAll(ctx context.Context) ([]User, error)
	Create(ctx context.Context, user User) (User, error)
	UpdateByID(ctx context.Context, id uuid.UUID, update UserUpdate) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

// NormalizeEmail lowercases and trims an email so that case and stray
// whitespace cannot produce duplicate accounts.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
