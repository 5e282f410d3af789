package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ecommerce-platform/user-service/internal/metrics"
	"github.com/ecommerce-platform/user-service/internal/core/domain"
	"github.com/ecommerce-platform/user-service/internal/core/ports"
)

// Tier names a rate-limiting policy bucket with its own window, quota and
// key-derivation rule.
type Tier string

const (
	TierGeneral       Tier = "general"
	TierAuth          Tier = "auth"
	TierPasswordReset Tier = "password-reset"
	TierRegistration  Tier = "registration"
	TierAPI           Tier = "api"
)

// TierPolicy is the window/quota pair enforced for one tier.
type TierPolicy struct {
	Window time.Duration
	Quota  int64
}

// RateLimitConfig carries the per-tier policies. The api tier's quota is
// role-dependent and resolved through RoleQuota.
type RateLimitConfig struct {
	General       TierPolicy
	Auth          TierPolicy
	PasswordReset TierPolicy
	Registration  TierPolicy

	APIWindow         time.Duration
	APIQuotas         map[string]int64 // role → quota
	APIAnonymousQuota int64

	// StoreTimeout bounds every counter-store round trip.
	StoreTimeout time.Duration
}

// DefaultRateLimitConfig returns the stock policy table.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		General:       TierPolicy{Window: 15 * time.Minute, Quota: 100},
		Auth:          TierPolicy{Window: 15 * time.Minute, Quota: 5},
		PasswordReset: TierPolicy{Window: time.Hour, Quota: 3},
		Registration:  TierPolicy{Window: time.Hour, Quota: 5},
		APIWindow:     15 * time.Minute,
		APIQuotas: map[string]int64{
			domain.RoleAdmin:     1000,
			domain.RoleModerator: 500,
			domain.RoleUser:      200,
		},
		APIAnonymousQuota: 50,
		StoreTimeout:      2 * time.Second,
	}
}

// RoleQuota resolves the api-tier quota for a role. Unknown authenticated
// roles get the default user quota; anonymous callers get the anonymous one.
func (cfg RateLimitConfig) RoleQuota(role string) int64 {
	if role == "" {
		return cfg.APIAnonymousQuota
	}
	if q, ok := cfg.APIQuotas[role]; ok {
		return q
	}
	return cfg.APIQuotas[domain.RoleUser]
}

// healthPaths are exempt from the general tier.
var healthPaths = map[string]struct{}{
	"/health":       {},
	"/health/ready": {},
}

// RateLimiter enforces the tiered quotas against the shared counter store.
type RateLimiter struct {
	store ports.CounterStore
	cfg   RateLimitConfig
	log   zerolog.Logger
}

func NewRateLimiter(store ports.CounterStore, cfg RateLimitConfig, log zerolog.Logger) *RateLimiter {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	return &RateLimiter{store: store, cfg: cfg, log: log}
}

// Limit returns the middleware enforcing the given tier. The counter is
// incremented pessimistically before the handler runs; the auth tier issues
// a compensating refund when the wrapped handler reports success, so
// successful logins never count toward the brute-force quota.
func (rl *RateLimiter) Limit(tier Tier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tier == TierGeneral {
				if _, exempt := healthPaths[c.Path()]; exempt {
					return next(c)
				}
			}

			policy := rl.policy(tier, c)
			key := rl.subjectKey(tier, c)

			ctx, cancel := context.WithTimeout(c.Request().Context(), rl.cfg.StoreTimeout)
			res, err := rl.store.Incr(ctx, key, policy.Quota, policy.Window)
			cancel()
			if err != nil {
				// Fail open for availability — except the auth tier,
				// which must not lose brute-force protection.
				if tier == TierAuth {
					rl.log.Error().Err(err).Str("tier", string(tier)).Msg("counter store unavailable, failing closed")
					return domain.ErrStoreUnavailable
				}
				rl.log.Warn().Err(err).Str("tier", string(tier)).Msg("counter store unavailable, failing open")
				return next(c)
			}

			if !res.Allowed {
				metrics.RateLimitRejectionsTotal.WithLabelValues(string(tier)).Inc()
				return rl.reject(c, tier, res.Remaining)
			}

			err = next(c)

			if tier == TierAuth && err == nil && c.Response().Status < http.StatusBadRequest {
				// If the window rolled over while the handler ran, the
				// decrement lands in the successor window (or is a no-op
				// on a missing key). The store-side guard keeps counters
				// at zero or above either way.
				refundCtx, refundCancel := context.WithTimeout(context.Background(), rl.cfg.StoreTimeout)
				if rerr := rl.store.Refund(refundCtx, key); rerr != nil {
					rl.log.Warn().Err(rerr).Str("key", key).Msg("rate limit refund failed")
				}
				refundCancel()
			}
			return err
		}
	}
}

func (rl *RateLimiter) policy(tier Tier, c echo.Context) TierPolicy {
	switch tier {
	case TierAuth:
		return rl.cfg.Auth
	case TierPasswordReset:
		return rl.cfg.PasswordReset
	case TierRegistration:
		return rl.cfg.Registration
	case TierAPI:
		role, _ := c.Get("role").(string)
		return TierPolicy{Window: rl.cfg.APIWindow, Quota: rl.cfg.RoleQuota(role)}
	default:
		return rl.cfg.General
	}
}

// subjectKey derives the identity a tier's quota is tracked against. Keys
// are namespaced by tier so the windows stay independent.
func (rl *RateLimiter) subjectKey(tier Tier, c echo.Context) string {
	ip := c.RealIP()

	var subject string
	switch tier {
	case TierGeneral:
		subject = ip
		if userID, ok := c.Get("user_id").(string); ok && userID != "" {
			subject = ip + ":" + userID
		}
	case TierAPI:
		subject = ip
		if userID, ok := c.Get("user_id").(string); ok && userID != "" {
			subject = userID
		}
	default:
		subject = ip
	}

	return "rl:" + string(tier) + ":" + subject
}

type rateLimitResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

var tierMessages = map[Tier]string{
	TierGeneral:       "Too many requests from this IP, please try again later.",
	TierAuth:          "Too many authentication attempts, please try again later.",
	TierPasswordReset: "Too many password reset attempts, please try again later.",
	TierRegistration:  "Too many registration attempts, please try again later.",
	TierAPI:           "API rate limit exceeded, please try again later.",
}

func (rl *RateLimiter) reject(c echo.Context, tier Tier, remaining time.Duration) error {
	retryAfter := int64(math.Ceil(remaining.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	c.Response().Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	return c.JSON(http.StatusTooManyRequests, rateLimitResponse{
		Message:    tierMessages[tier],
		RetryAfter: retryAfter,
	})
}
