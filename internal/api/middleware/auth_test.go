package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func runAuth(t *testing.T, authHeader string) (echo.Context, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/users/profile", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	err := Auth(testSecret)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	return c, err
}

func TestAuth_ValidTokenInjectsIdentity(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "user_42",
		"role": domain.RoleModerator,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	c, err := runAuth(t, "Bearer "+token)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got, _ := c.Get("user_id").(string); got != "user_42" {
		t.Fatalf("user_id = %q, want user_42", got)
	}
	if got, _ := c.Get("role").(string); got != domain.RoleModerator {
		t.Fatalf("role = %q, want %s", got, domain.RoleModerator)
	}
}

func TestAuth_Rejections(t *testing.T) {
	expired := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user_42", "role": domain.RoleUser, "exp": time.Now().Add(-time.Minute).Unix(),
	})
	wrongKey := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "user_42", "role": domain.RoleUser, "exp": time.Now().Add(time.Hour).Unix(),
	})

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"malformed token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong signing key", "Bearer " + wrongKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runAuth(t, tc.header)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected *echo.HTTPError, got %v", err)
			}
			if httpErr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", httpErr.Code)
			}
		})
	}
}

func TestAuth_RejectsUnexpectedAlgorithm(t *testing.T) {
	// alg=none must never pass, even with a well-formed payload.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user_42", "role": domain.RoleAdmin, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	_, authErr := runAuth(t, "Bearer "+token)
	httpErr, ok := authErr.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", authErr)
	}
}

func TestRBAC(t *testing.T) {
	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	cases := []struct {
		name    string
		role    any
		allowed bool
	}{
		{"admin allowed", domain.RoleAdmin, true},
		{"moderator not in admin-only route", domain.RoleModerator, false},
		{"plain user forbidden", domain.RoleUser, false},
		{"missing role forbidden", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/users", nil)
			c := e.NewContext(req, httptest.NewRecorder())
			if tc.role != nil {
				c.Set("role", tc.role)
			}

			err := RBAC(domain.RoleAdmin)(handler)(c)
			if tc.allowed {
				if err != nil {
					t.Fatalf("expected access, got %v", err)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %v", err)
			}
		})
	}
}
