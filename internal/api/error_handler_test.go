package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
)

func render(t *testing.T, err error) (*httptest.ResponseRecorder, errorEnvelope) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	NewHTTPErrorHandler(zerolog.Nop())(err, c)

	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return rec, env
}

func TestHTTPErrorHandler_DomainErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid credentials", domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{"account locked", domain.ErrAccountLocked, http.StatusLocked},
		{"account inactive", domain.ErrAccountInactive, http.StatusUnauthorized},
		{"duplicate email", domain.ErrDuplicateEmail, http.StatusConflict},
		{"token invalid", domain.ErrTokenInvalid, http.StatusBadRequest},
		{"token expired", domain.ErrTokenExpired, http.StatusBadRequest},
		{"user not found", domain.ErrUserNotFound, http.StatusNotFound},
		{"notification failed", domain.ErrNotificationFailed, http.StatusInternalServerError},
		{"store unavailable", domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := render(t, tc.err)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			if env.Success {
				t.Fatalf("expected success=false")
			}
			if env.Message == "" {
				t.Fatalf("expected a message")
			}
		})
	}
}

func TestHTTPErrorHandler_WrappedDomainError(t *testing.T) {
	wrapped := errors.Join(errors.New("login: store round trip"), domain.ErrAccountLocked)

	rec, _ := render(t, wrapped)
	if rec.Code != http.StatusLocked {
		t.Fatalf("expected 423 for wrapped sentinel, got %d", rec.Code)
	}
}

func TestHTTPErrorHandler_EchoHTTPError(t *testing.T) {
	rec, env := render(t, echo.NewHTTPError(http.StatusBadRequest, "email is required"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.Message != "email is required" {
		t.Fatalf("unexpected message: %q", env.Message)
	}
}

func TestHTTPErrorHandler_UnknownErrorIsOpaque(t *testing.T) {
	rec, env := render(t, errors.New("mongo: socket was unexpectedly closed"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	// The internal cause must not leak to the client.
	if env.Message != "internal server error" {
		t.Fatalf("internal detail leaked: %q", env.Message)
	}
}

func TestHTTPErrorHandler_CommittedResponseUntouched(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := c.JSON(http.StatusOK, map[string]any{"success": true}); err != nil {
		t.Fatalf("prime response: %v", err)
	}

	NewHTTPErrorHandler(zerolog.Nop())(domain.ErrUserNotFound, c)
	if rec.Code != http.StatusOK {
		t.Fatalf("committed response overwritten: %d", rec.Code)
	}
}
