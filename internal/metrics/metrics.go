// Package metrics defines and registers all custom Prometheus metrics for the
// user service. It is the single source of truth for metric names, labels,
// and help strings.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "user_service"

// LoginsTotal counts login attempts by outcome.
// Label:
//   - result: "success", "invalid_credentials", "locked", "inactive"
var LoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Total number of login attempts, by outcome.",
	},
	[]string{"result"},
)

// RegistrationsTotal counts successfully created accounts.
var RegistrationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Total number of accounts created.",
	},
)

// TokensIssuedTotal counts lifecycle tokens handed out for delivery.
// Label:
//   - purpose: "email-verification" or "password-reset"
var TokensIssuedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Total number of single-use tokens issued, by purpose.",
	},
	[]string{"purpose"},
)

// TokensConsumedTotal counts lifecycle tokens spent successfully.
// Label:
//   - purpose: "email-verification" or "password-reset"
var TokensConsumedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_consumed_total",
		Help:      "Total number of single-use tokens consumed, by purpose.",
	},
	[]string{"purpose"},
)

// RateLimitRejectionsTotal counts requests rejected by the rate limiter.
// Label:
//   - tier: "general", "auth", "password-reset", "registration", "api"
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Total number of requests rejected with 429, by tier.",
	},
	[]string{"tier"},
)
