package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
	"github.com/ecommerce-platform/user-service/internal/core/ports"
	"github.com/ecommerce-platform/user-service/internal/metrics"
)

const tokenBytes = 20

// TokenManager issues and consumes single-use, time-boxed tokens. Only the
// sha256 digest of a token is ever persisted; the plaintext is returned once
// for out-of-band delivery.
type TokenManager struct {
	repo ports.UserRepository
	now  func() time.Time
}

func NewTokenManager(repo ports.UserRepository) *TokenManager {
	return &TokenManager{repo: repo, now: time.Now}
}

// Issue generates a fresh token for the given purpose and stores its hash
// and expiry on the user, overwriting any prior outstanding token of the
// same purpose.
func (m *TokenManager) Issue(ctx context.Context, userID string, purpose domain.TokenPurpose, ttl time.Duration) (plaintext string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	plaintext = hex.EncodeToString(buf)

	expiresAt := m.now().UTC().Add(ttl)
	if err := m.repo.StoreToken(ctx, userID, purpose, m.Hash(plaintext), expiresAt); err != nil {
		return "", err
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(purpose)).Inc()
	return plaintext, nil
}

// Hash is the deterministic one-way digest applied at issue and verify time.
func (m *TokenManager) Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Invalidate rolls back an outstanding token, e.g. when the notifier could
// not deliver the plaintext.
func (m *TokenManager) Invalidate(ctx context.Context, userID string, purpose domain.TokenPurpose) error {
	return m.repo.ClearToken(ctx, userID, purpose)
}

// ConsumeVerification spends an email-verification token: the matching user
// is marked verified and the token cleared in the same store mutation.
func (m *TokenManager) ConsumeVerification(ctx context.Context, plaintext string) (*domain.User, error) {
	hash := m.Hash(plaintext)
	if err := m.checkLive(ctx, domain.PurposeEmailVerification, hash); err != nil {
		return nil, err
	}

	user, err := m.repo.ConsumeVerificationToken(ctx, hash, m.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.TokensConsumedTotal.WithLabelValues(string(domain.PurposeEmailVerification)).Inc()
	return user, nil
}

// ConsumeReset spends a password-reset token, storing the new credential
// hash as part of the consuming mutation.
func (m *TokenManager) ConsumeReset(ctx context.Context, plaintext, newPasswordHash string) (*domain.User, error) {
	hash := m.Hash(plaintext)
	if err := m.checkLive(ctx, domain.PurposePasswordReset, hash); err != nil {
		return nil, err
	}

	user, err := m.repo.ConsumePasswordResetToken(ctx, hash, newPasswordHash, m.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.TokensConsumedTotal.WithLabelValues(string(domain.PurposePasswordReset)).Inc()
	return user, nil
}

// checkLive distinguishes an unknown token from an expired one. The
// subsequent consume still filters on expiry, so a token that expires
// between the two calls fails closed.
func (m *TokenManager) checkLive(ctx context.Context, purpose domain.TokenPurpose, hash string) error {
	user, err := m.repo.FindByTokenHash(ctx, purpose, hash)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrTokenInvalid
		}
		return err
	}

	expiresAt := user.VerificationExpiresAt
	if purpose == domain.PurposePasswordReset {
		expiresAt = user.PasswordResetExpiresAt
	}
	if expiresAt == nil || m.now().UTC().After(*expiresAt) {
		return domain.ErrTokenExpired
	}
	return nil
}
