package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
	redisdb "github.com/ecommerce-platform/user-service/internal/infrastructure/db/redis"
)

func newLimiter(t *testing.T, cfg RateLimitConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRateLimiter(redisdb.NewCounterStore(client), cfg, zerolog.Nop()), mr
}

// invoke runs one request through the tier middleware with the given handler.
func invoke(t *testing.T, rl *RateLimiter, tier Tier, handler echo.HandlerFunc, mutate func(echo.Context)) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Real-Ip", "203.0.113.9")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if mutate != nil {
		mutate(c)
	}

	err := rl.Limit(tier)(handler)(c)
	return rec, err
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func failedLoginHandler(c echo.Context) error {
	return domain.ErrInvalidCredentials
}

func TestRateLimiter_AuthTierBlocksAfterQuota(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	rl, _ := newLimiter(t, cfg)

	// Five failed attempts consume the quota.
	for i := 0; i < 5; i++ {
		_, err := invoke(t, rl, TierAuth, failedLoginHandler, nil)
		if !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected handler error, got %v", i+1, err)
		}
	}

	// The sixth is rejected before the handler runs.
	rec, err := invoke(t, rl, TierAuth, func(c echo.Context) error {
		t.Fatal("handler must not run past the quota")
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("reject should write the response itself, got %v", err)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	retryAfter, err := strconv.ParseInt(rec.Header().Get("Retry-After"), 10, 64)
	if err != nil {
		t.Fatalf("missing Retry-After header: %v", err)
	}
	if retryAfter < 1 || retryAfter > 900 {
		t.Fatalf("Retry-After out of window bounds: %d", retryAfter)
	}

	var body rateLimitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success {
		t.Fatalf("expected success=false")
	}
	if body.RetryAfter != retryAfter {
		t.Fatalf("body retryAfter %d != header %d", body.RetryAfter, retryAfter)
	}
	if body.Message == "" {
		t.Fatalf("expected rejection message")
	}
}

func TestRateLimiter_AuthTierRefundsSuccess(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	rl, mr := newLimiter(t, cfg)

	// Successful logins are refunded, so far more than quota succeed.
	for i := 0; i < 20; i++ {
		rec, err := invoke(t, rl, TierAuth, okHandler, nil)
		if err != nil {
			t.Fatalf("attempt %d failed: %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	if got, _ := mr.Get("rl:auth:203.0.113.9"); got != "0" && got != "" {
		t.Fatalf("expected fully refunded counter, got %q", got)
	}
}

func TestRateLimiter_AuthTierFailsClosedWhenStoreDown(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.StoreTimeout = 200 * time.Millisecond
	rl, mr := newLimiter(t, cfg)
	mr.Close()

	_, err := invoke(t, rl, TierAuth, func(c echo.Context) error {
		t.Fatal("handler must not run when the store is down")
		return nil
	}, nil)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRateLimiter_GeneralTierFailsOpenWhenStoreDown(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.StoreTimeout = 200 * time.Millisecond
	rl, mr := newLimiter(t, cfg)
	mr.Close()

	rec, err := invoke(t, rl, TierGeneral, okHandler, nil)
	if err != nil {
		t.Fatalf("general tier should fail open, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimiter_GeneralTierExemptsHealthPaths(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.General = TierPolicy{Window: time.Minute, Quota: 1}
	rl, _ := newLimiter(t, cfg)

	for i := 0; i < 5; i++ {
		rec, err := invoke(t, rl, TierGeneral, okHandler, func(c echo.Context) {
			c.SetPath("/health")
		})
		if err != nil || rec.Code != http.StatusOK {
			t.Fatalf("health probe %d limited: err=%v code=%d", i+1, err, rec.Code)
		}
	}
}

func TestRateLimiter_GeneralTierQuota(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.General = TierPolicy{Window: time.Minute, Quota: 2}
	rl, _ := newLimiter(t, cfg)

	for i := 0; i < 2; i++ {
		rec, err := invoke(t, rl, TierGeneral, okHandler, nil)
		if err != nil || rec.Code != http.StatusOK {
			t.Fatalf("request %d: err=%v code=%d", i+1, err, rec.Code)
		}
	}
	rec, err := invoke(t, rl, TierGeneral, okHandler, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRateLimiter_APITierRoleQuotas(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.APIWindow = time.Minute
	cfg.APIQuotas = map[string]int64{
		domain.RoleAdmin:     4,
		domain.RoleModerator: 3,
		domain.RoleUser:      2,
	}
	cfg.APIAnonymousQuota = 1
	rl, _ := newLimiter(t, cfg)

	cases := []struct {
		name   string
		userID string
		role   string
		quota  int
	}{
		{"admin", "u-admin", domain.RoleAdmin, 4},
		{"moderator", "u-mod", domain.RoleModerator, 3},
		{"user", "u-user", domain.RoleUser, 2},
		{"unknown role falls back to user", "u-odd", "superuser", 2},
		{"anonymous", "", "", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mutate := func(c echo.Context) {
				if tc.userID != "" {
					c.Set("user_id", tc.userID)
					c.Set("role", tc.role)
				}
			}

			for i := 0; i < tc.quota; i++ {
				rec, err := invoke(t, rl, TierAPI, okHandler, mutate)
				if err != nil || rec.Code != http.StatusOK {
					t.Fatalf("request %d: err=%v code=%d", i+1, err, rec.Code)
				}
			}
			rec, err := invoke(t, rl, TierAPI, okHandler, mutate)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429 after %d requests, got %d", tc.quota, rec.Code)
			}
		})
	}
}

func TestRateLimiter_TiersTrackIndependently(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.Registration = TierPolicy{Window: time.Minute, Quota: 1}
	cfg.PasswordReset = TierPolicy{Window: time.Minute, Quota: 1}
	rl, _ := newLimiter(t, cfg)

	// Exhausting registration leaves password-reset untouched.
	if rec, _ := invoke(t, rl, TierRegistration, okHandler, nil); rec.Code != http.StatusOK {
		t.Fatalf("first registration blocked: %d", rec.Code)
	}
	if rec, _ := invoke(t, rl, TierRegistration, okHandler, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected registration 429, got %d", rec.Code)
	}
	if rec, _ := invoke(t, rl, TierPasswordReset, okHandler, nil); rec.Code != http.StatusOK {
		t.Fatalf("password-reset bled into registration quota: %d", rec.Code)
	}
}

func TestRateLimiter_NonAuthTierDoesNotRefund(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.Registration = TierPolicy{Window: time.Minute, Quota: 2}
	rl, mr := newLimiter(t, cfg)

	for i := 0; i < 2; i++ {
		if rec, _ := invoke(t, rl, TierRegistration, okHandler, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d blocked: %d", i+1, rec.Code)
		}
	}
	if got, _ := mr.Get("rl:registration:203.0.113.9"); got != "2" {
		t.Fatalf("expected counter 2, got %q", got)
	}
}
