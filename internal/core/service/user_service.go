package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
	"github.com/ecommerce-platform/user-service/internal/core/ports"
)

// UserService covers profile access and the admin-only account operations.
type UserService struct {
	repo   ports.UserRepository
	logger zerolog.Logger
}

func NewUserService(repo ports.UserRepository, logger zerolog.Logger) *UserService {
	return &UserService{repo: repo, logger: logger}
}

func (s *UserService) Profile(ctx context.Context, userID string) (domain.UserView, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return domain.UserView{}, err
	}
	return user.PublicView(), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, fields ports.ProfileUpdate) (domain.UserView, error) {
	user, err := s.repo.UpdateProfile(ctx, userID, fields)
	if err != nil {
		return domain.UserView{}, err
	}
	return user.PublicView(), nil
}

func (s *UserService) List(ctx context.Context, page, limit int) ([]domain.UserView, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	users, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}

	views := make([]domain.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, u.PublicView())
	}
	return views, total, nil
}

func (s *UserService) Get(ctx context.Context, id string) (domain.UserView, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.UserView{}, err
	}
	return user.PublicView(), nil
}

// SetActive flips the active flag. The transition is idempotent: activating
// an active account is a no-op that still returns the current view.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) (domain.UserView, error) {
	user, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return domain.UserView{}, err
	}

	s.logger.Info().Str("user_id", id).Bool("active", active).Msg("account state changed")
	return user.PublicView(), nil
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info().Str("user_id", id).Msg("user deleted")
	return nil
}
