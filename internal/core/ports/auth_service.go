package ports

import (
	"context"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
)

// RegisterInput carries the schema-validated registration fields.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Phone     string
	Address   string
}

// AuthResult is returned by operations that authenticate the caller.
type AuthResult struct {
	User  domain.UserView
	Token string
}

type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error
}
