package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func load(t *testing.T, env map[string]string) *Config {
	t.Helper()

	var cfg Config
	err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(env),
	})
	if err != nil {
		t.Fatalf("process config: %v", err)
	}
	return &cfg
}

func TestConfig_Defaults(t *testing.T) {
	cfg := load(t, nil)

	if cfg.Port != "8080" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.Lockout.Threshold != 5 || cfg.Lockout.Duration != 2*time.Hour {
		t.Fatalf("lockout defaults = %d/%s", cfg.Lockout.Threshold, cfg.Lockout.Duration)
	}
	if cfg.Tokens.VerificationTTL != 24*time.Hour || cfg.Tokens.ResetTTL != time.Hour {
		t.Fatalf("token TTL defaults = %s/%s", cfg.Tokens.VerificationTTL, cfg.Tokens.ResetTTL)
	}
	if cfg.RateLimit.AuthQuota != 5 || cfg.RateLimit.AuthWindow != 15*time.Minute {
		t.Fatalf("auth limit defaults = %d/%s", cfg.RateLimit.AuthQuota, cfg.RateLimit.AuthWindow)
	}
	if cfg.RateLimit.ResetQuota != 3 || cfg.RateLimit.ResetWindow != time.Hour {
		t.Fatalf("reset limit defaults = %d/%s", cfg.RateLimit.ResetQuota, cfg.RateLimit.ResetWindow)
	}
}

func TestConfig_Overrides(t *testing.T) {
	cfg := load(t, map[string]string{
		"PORT":                 "9999",
		"LOCKOUT_THRESHOLD":    "3",
		"LOCKOUT_DURATION":     "30m",
		"RATE_LIMIT_AUTH_MAX":  "10",
		"PASSWORD_RESET_TTL":   "15m",
		"NOTIFICATION_WORKERS": "8",
	})

	if cfg.Port != "9999" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.Lockout.Threshold != 3 || cfg.Lockout.Duration != 30*time.Minute {
		t.Fatalf("lockout = %d/%s", cfg.Lockout.Threshold, cfg.Lockout.Duration)
	}
	if cfg.RateLimit.AuthQuota != 10 {
		t.Fatalf("auth quota = %d", cfg.RateLimit.AuthQuota)
	}
	if cfg.Tokens.ResetTTL != 15*time.Minute {
		t.Fatalf("reset TTL = %s", cfg.Tokens.ResetTTL)
	}
	if cfg.Notifier.Workers != 8 {
		t.Fatalf("workers = %d", cfg.Notifier.Workers)
	}
}

func TestConfig_PolicyConversion(t *testing.T) {
	cfg := load(t, map[string]string{
		"RATE_LIMIT_API_ADMIN_MAX":     "400",
		"RATE_LIMIT_API_ANONYMOUS_MAX": "20",
	})

	policy := cfg.RateLimit.Policy()
	if policy.Auth.Quota != 5 || policy.Auth.Window != 15*time.Minute {
		t.Fatalf("auth policy = %+v", policy.Auth)
	}
	if policy.APIQuotas["admin"] != 400 {
		t.Fatalf("admin quota = %d", policy.APIQuotas["admin"])
	}
	if policy.APIAnonymousQuota != 20 {
		t.Fatalf("anonymous quota = %d", policy.APIAnonymousQuota)
	}
	if policy.StoreTimeout != 2*time.Second {
		t.Fatalf("store timeout = %s", policy.StoreTimeout)
	}
}
