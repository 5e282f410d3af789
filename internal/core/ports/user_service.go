package ports

import (
	"context"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
)

// UserService covers profile access and the admin-only account operations.
type UserService interface {
	Profile(ctx context.Context, userID string) (domain.UserView, error)
	UpdateProfile(ctx context.Context, userID string, fields ProfileUpdate) (domain.UserView, error)

	List(ctx context.Context, page, limit int) ([]domain.UserView, int64, error)
	Get(ctx context.Context, id string) (domain.UserView, error)
	SetActive(ctx context.Context, id string, active bool) (domain.UserView, error)
	Delete(ctx context.Context, id string) error
}
