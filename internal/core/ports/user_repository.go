package ports

import (
	"context"
	"time"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
)

// ProfileUpdate carries the mutable profile subset. Nil fields are left
// untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Phone     *string
	Address   *string
}

// UserRepository defines the persistence contract for user documents.
// Every method is a single-document atomic operation; lockout and token
// mutations must never be implemented as separate read-then-write steps.
type UserRepository interface {
	// Create inserts a new user. Returns domain.ErrDuplicateEmail when the
	// normalized email is already taken (unique index, so a concurrent
	// register race resolves in the store).
	Create(ctx context.Context, user *domain.User) (*domain.User, error)

	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)

	// FindByTokenHash looks a user up solely by the hashed token for the
	// given purpose; expiry is not part of the filter so callers can
	// distinguish invalid from expired.
	FindByTokenHash(ctx context.Context, purpose domain.TokenPurpose, hash string) (*domain.User, error)

	// StoreToken overwrites the outstanding token of the given purpose
	// (at most one live token per purpose).
	StoreToken(ctx context.Context, id string, purpose domain.TokenPurpose, hash string, expiresAt time.Time) error

	// ClearToken drops the outstanding token of the given purpose, if any.
	// Used to roll back an issued token when delivery fails.
	ClearToken(ctx context.Context, id string, purpose domain.TokenPurpose) error

	// ConsumeVerificationToken atomically matches a live (unexpired)
	// verification token hash, marks the email verified and clears the
	// token in the same update. Returns domain.ErrTokenInvalid when no
	// live token matches, so a replay can never succeed twice.
	ConsumeVerificationToken(ctx context.Context, hash string, now time.Time) (*domain.User, error)

	// ConsumePasswordResetToken is the reset-purpose twin: it stores the
	// new password hash and clears the token in one update.
	ConsumePasswordResetToken(ctx context.Context, hash string, newPasswordHash string, now time.Time) (*domain.User, error)

	// RecordLoginFailure atomically increments the failure counter and,
	// when the post-increment count reaches threshold, sets locked_until =
	// now + lockFor (only if no live lock is already in place — the lock
	// window is fixed from the tripping failure). Returns the post-update
	// user.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (*domain.User, error)

	// RecordLoginSuccess resets the failure counter, clears any lock and
	// stamps last_login.
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error

	UpdatePasswordHash(ctx context.Context, id string, hash string) error
	UpdateProfile(ctx context.Context, id string, fields ProfileUpdate) (*domain.User, error)
	SetActive(ctx context.Context, id string, active bool) (*domain.User, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, page, limit int) ([]*domain.User, int64, error)
}
