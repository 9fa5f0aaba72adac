package repository

import (
	"context"
	"errors"
	"time"

	"github.com/forgestack/auth-api/internal/domain/entity"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when a create or update collides with
	// another record's email (case-insensitive).
	ErrDuplicateEmail = errors.New("email already in use")
)

// UserRepository defines the persistence contract for user credentials.
//
// Reads never include the password hash unless withSecret is true.
// Mutations that pair a secret write with a token clear (UpdatePassword,
// RedeemResetToken) must commit atomically per record.
type UserRepository interface {
	// Create persists a new user. Email must already be normalized
	// (lowercased, trimmed) by the caller.
	Create(ctx context.Context, u *entity.User) error

	GetByID(ctx context.Context, id string, withSecret bool) (*entity.User, error)
	GetByEmail(ctx context.Context, email string, withSecret bool) (*entity.User, error)

	// UpdateProfile persists name, email and avatar URL.
	UpdateProfile(ctx context.Context, u *entity.User) error

	// UpdatePassword swaps the stored hash only if the current stored hash
	// still equals oldHash, so a concurrent change cannot be silently
	// overwritten. Returns ErrNotFound when the row no longer matches.
	UpdatePassword(ctx context.Context, id, oldHash, newHash string) error

	// SetResetToken stores a reset-token digest and its expiry, replacing
	// any outstanding token.
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error

	// ClearResetToken removes an outstanding reset token, if any.
	ClearResetToken(ctx context.Context, id string) error

	// RedeemResetToken sets a new password hash and clears the reset token
	// in one statement, matching only a record whose stored token digest
	// equals tokenHash and whose expiry is strictly after now. Returns
	// ErrNotFound when nothing matches; callers must not distinguish a
	// wrong token from an expired one.
	RedeemResetToken(ctx context.Context, tokenHash string, now time.Time, newHash string) (*entity.User, error)
}
