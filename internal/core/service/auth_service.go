package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
	"github.com/ecommerce-platform/user-service/internal/core/ports"
)

// AsyncNotifier enqueues a best-effort notification and returns immediately.
// Registration uses it so a slow or failing mail path never blocks the
// commit point.
type AsyncNotifier interface {
	Enqueue(email, template string, data map[string]any)
}

// AuthOptions carries the tunables of the authentication flows.
type AuthOptions struct {
	JWTSecret       string
	TokenTTL        time.Duration // bearer token lifetime
	VerificationTTL time.Duration // email-verification token lifetime
	ResetTTL        time.Duration // password-reset token lifetime
	FrontendURL     string        // base URL embedded in emailed links
}

// AuthService implements registration, login and the token-driven account
// flows on top of the credential store.
type AuthService struct {
	repo     ports.UserRepository
	tokens   *TokenManager
	lockout  LockoutPolicy
	notifier ports.Notifier
	mailer   AsyncNotifier
	opts     AuthOptions
	logger   zerolog.Logger
	now      func() time.Time
}

func NewAuthService(repo ports.UserRepository, tokens *TokenManager, lockout LockoutPolicy, notifier ports.Notifier, mailer AsyncNotifier, opts AuthOptions, logger zerolog.Logger) *AuthService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.VerificationTTL <= 0 {
		opts.VerificationTTL = 24 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	return &AuthService{
		repo:     repo,
		tokens:   tokens,
		lockout:  lockout,
		notifier: notifier,
		mailer:   mailer,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// dummyHash is compared against when the email is unknown, so a miss costs
// the same bcrypt work as a mismatch and the two stay indistinguishable.
var dummyHash = func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcrypt.DefaultCost)
	return h
}()

// Register creates the account, then issues and dispatches a verification
// token. Registration is the commit point: failures past user creation are
// logged, never surfaced.
func (s *AuthService) Register(ctx context.Context, input ports.RegisterInput) (*ports.AuthResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &domain.User{
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        domain.NormalizeEmail(input.Email),
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		Phone:        input.Phone,
		Address:      input.Address,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.tokens.Issue(ctx, created.ID, domain.PurposeEmailVerification, s.opts.VerificationTTL)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", created.ID).Msg("failed to issue verification token")
	} else {
		s.mailer.Enqueue(created.Email, ports.TemplateEmailVerification, map[string]any{
			"name":            created.FirstName,
			"verificationUrl": s.opts.FrontendURL + "/verify-email/" + plaintext,
		})
	}

	token, err := s.bearerToken(created)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", created.ID).Msg("user registered")
	return &ports.AuthResult{User: created.PublicView(), Token: token}, nil
}

// Login verifies credentials and returns a signed bearer token. An unknown
// email and a wrong password both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*ports.AuthResult, error) {
	now := s.now().UTC()

	user, err := s.repo.FindByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if s.lockout.IsLocked(user, now) {
		return nil, domain.ErrAccountLocked
	}
	if !user.IsActive {
		return nil, domain.ErrAccountInactive
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		updated, ferr := s.repo.RecordLoginFailure(ctx, user.ID, s.lockout.Threshold, s.lockout.LockDuration, now)
		if ferr != nil {
			s.logger.Error().Err(ferr).Str("user_id", user.ID).Msg("failed to record login failure")
		} else if s.lockout.Tripped(updated, now) {
			s.logger.Warn().Str("user_id", user.ID).Int("failures", updated.FailedLoginCount).Msg("account locked")
		}
		return nil, domain.ErrInvalidCredentials
	}

	if err := s.repo.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	user.LastLogin = &now

	token, err := s.bearerToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("login successful")
	return &ports.AuthResult{User: user.PublicView(), Token: token}, nil
}

// ChangePassword re-hashes and stores the new credential after verifying
// the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return domain.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePasswordHash(ctx, user.ID, string(hash))
}

// RequestPasswordReset issues a reset token and hands the plaintext to the
// notifier. Delivery failure rolls the token back so an undeliverable token
// never stays live.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.FindByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return err
	}

	plaintext, err := s.tokens.Issue(ctx, user.ID, domain.PurposePasswordReset, s.opts.ResetTTL)
	if err != nil {
		return err
	}

	err = s.notifier.Send(ctx, user.Email, ports.TemplatePasswordReset, map[string]any{
		"name":     user.FirstName,
		"resetUrl": s.opts.FrontendURL + "/reset-password/" + plaintext,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("password reset email failed")
		if rerr := s.tokens.Invalidate(ctx, user.ID, domain.PurposePasswordReset); rerr != nil {
			s.logger.Error().Err(rerr).Str("user_id", user.ID).Msg("failed to roll back reset token")
		}
		return domain.ErrNotificationFailed
	}

	s.logger.Info().Str("user_id", user.ID).Msg("password reset requested")
	return nil
}

// ResetPassword spends the reset token and stores the new credential in the
// same mutation; replaying the token yields ErrTokenInvalid.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user, err := s.tokens.ConsumeReset(ctx, token, string(hash))
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("password reset completed")
	return nil
}

// VerifyEmail spends the verification token, flipping the account to
// verified exactly once.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.tokens.ConsumeVerification(ctx, token)
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", user.ID).Msg("email verified")
	return nil
}

func (s *AuthService) bearerToken(user *domain.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": user.Role,
		"exp":  s.now().Add(s.opts.TokenTTL).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.opts.JWTSecret))
}
