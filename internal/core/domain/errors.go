package domain

import "errors"

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotificationFailed = errors.New("notification could not be sent")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrStoreUnavailable   = errors.New("store unavailable")
)
