package service

import (
	"time"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
)

const (
	defaultLockThreshold = 5
	defaultLockDuration  = 2 * time.Hour
)

// LockoutPolicy derives lock decisions from per-account failure counts.
// The counter itself lives in the credential store and is mutated through
// atomic repository operations; the policy only supplies the parameters and
// interprets the resulting state.
type LockoutPolicy struct {
	Threshold    int
	LockDuration time.Duration
}

func NewLockoutPolicy(threshold int, lockDuration time.Duration) LockoutPolicy {
	if threshold <= 0 {
		threshold = defaultLockThreshold
	}
	if lockDuration <= 0 {
		lockDuration = defaultLockDuration
	}
	return LockoutPolicy{Threshold: threshold, LockDuration: lockDuration}
}

// IsLocked reports whether the account is inside a live lock window.
func (p LockoutPolicy) IsLocked(u *domain.User, now time.Time) bool {
	return u.Locked(now)
}

// Tripped reports whether the post-failure state constitutes a lock.
func (p LockoutPolicy) Tripped(u *domain.User, now time.Time) bool {
	return u.FailedLoginCount >= p.Threshold && u.Locked(now)
}
