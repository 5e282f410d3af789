package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/ecommerce-platform/user-service/internal/api/middleware"
)

type Config struct {
	Port        string        `env:"PORT,         default=8080"`
	Env         string        `env:"ENV,          default=development"`
	JWTSecret   string        `env:"JWT_SECRET"`
	TokenTTL    time.Duration `env:"JWT_TTL,      default=24h"`
	LogLevel    string        `env:"LOG_LEVEL,    default=info"`
	FrontendURL string        `env:"FRONTEND_URL, default=http://localhost:3000"`

	Mongo     MongoConfig
	Redis     RedisConfig
	Lockout   LockoutConfig
	Tokens    TokenConfig
	Notifier  NotifierConfig
	RateLimit RateLimitConfig
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=user_service"`
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"REDIS_DB,   default=0"`
}

type LockoutConfig struct {
	Threshold int           `env:"LOCKOUT_THRESHOLD, default=5"`
	Duration  time.Duration `env:"LOCKOUT_DURATION,  default=2h"`
}

type TokenConfig struct {
	VerificationTTL time.Duration `env:"EMAIL_VERIFICATION_TTL, default=24h"`
	ResetTTL        time.Duration `env:"PASSWORD_RESET_TTL,     default=1h"`
}

type NotifierConfig struct {
	URL     string        `env:"NOTIFICATION_SERVICE_URL, default=http://localhost:9000"`
	Timeout time.Duration `env:"NOTIFICATION_TIMEOUT,     default=5s"`
	Workers int           `env:"NOTIFICATION_WORKERS,     default=4"`
}

type RateLimitConfig struct {
	GeneralWindow time.Duration `env:"RATE_LIMIT_WINDOW,       default=15m"`
	GeneralQuota  int64         `env:"RATE_LIMIT_MAX_REQUESTS, default=100"`

	AuthWindow time.Duration `env:"RATE_LIMIT_AUTH_WINDOW, default=15m"`
	AuthQuota  int64         `env:"RATE_LIMIT_AUTH_MAX,    default=5"`

	ResetWindow time.Duration `env:"RATE_LIMIT_RESET_WINDOW, default=1h"`
	ResetQuota  int64         `env:"RATE_LIMIT_RESET_MAX,    default=3"`

	RegistrationWindow time.Duration `env:"RATE_LIMIT_REGISTRATION_WINDOW, default=1h"`
	RegistrationQuota  int64         `env:"RATE_LIMIT_REGISTRATION_MAX,    default=5"`

	APIWindow         time.Duration `env:"RATE_LIMIT_API_WINDOW,        default=15m"`
	APIAdminQuota     int64         `env:"RATE_LIMIT_API_ADMIN_MAX,     default=1000"`
	APIModeratorQuota int64         `env:"RATE_LIMIT_API_MODERATOR_MAX, default=500"`
	APIUserQuota      int64         `env:"RATE_LIMIT_API_USER_MAX,      default=200"`
	APIAnonymousQuota int64         `env:"RATE_LIMIT_API_ANONYMOUS_MAX, default=50"`

	StoreTimeout time.Duration `env:"RATE_LIMIT_STORE_TIMEOUT, default=2s"`
}

// Policy converts the env-driven settings into the limiter's policy table.
func (c RateLimitConfig) Policy() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		General:       middleware.TierPolicy{Window: c.GeneralWindow, Quota: c.GeneralQuota},
		Auth:          middleware.TierPolicy{Window: c.AuthWindow, Quota: c.AuthQuota},
		PasswordReset: middleware.TierPolicy{Window: c.ResetWindow, Quota: c.ResetQuota},
		Registration:  middleware.TierPolicy{Window: c.RegistrationWindow, Quota: c.RegistrationQuota},
		APIWindow:     c.APIWindow,
		APIQuotas: map[string]int64{
			"admin":     c.APIAdminQuota,
			"moderator": c.APIModeratorQuota,
			"user":      c.APIUserQuota,
		},
		APIAnonymousQuota: c.APIAnonymousQuota,
		StoreTimeout:      c.StoreTimeout,
	}
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
