package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
)

// errorEnvelope is the canonical envelope for all API errors.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps known domain errors to their appropriate HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"success": false, "message": "..."}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err, log, c)
		_ = c.JSON(code, errorEnvelope{Message: msg})
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, string) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	// Known domain errors → deterministic HTTP codes. Unknown email and
	// wrong password both arrive here as ErrInvalidCredentials; the
	// merging happens in the service, not in this mapping.
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, domain.ErrAccountLocked):
		// 423 without the remaining lock time: the caller learns the
		// account is locked, not when the lock lifts.
		return http.StatusLocked, "account temporarily locked due to too many failed login attempts"
	case errors.Is(err, domain.ErrAccountInactive):
		return http.StatusUnauthorized, "account is deactivated"
	case errors.Is(err, domain.ErrDuplicateEmail):
		return http.StatusConflict, "user already exists with this email"
	case errors.Is(err, domain.ErrTokenInvalid):
		return http.StatusBadRequest, "invalid or already used token"
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusBadRequest, "token has expired"
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, domain.ErrNotificationFailed):
		return http.StatusInternalServerError, "email could not be sent"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, "internal server error"
}
