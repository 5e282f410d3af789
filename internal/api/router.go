package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	echoswagger "github.com/swaggo/echo-swagger"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ecommerce-platform/user-service/internal/api/handler"
	"github.com/ecommerce-platform/user-service/internal/api/middleware"
	"github.com/ecommerce-platform/user-service/internal/config"
	"github.com/ecommerce-platform/user-service/internal/core/domain"
	"github.com/ecommerce-platform/user-service/internal/core/ports"
	"github.com/ecommerce-platform/user-service/internal/core/service"
	mongodb "github.com/ecommerce-platform/user-service/internal/infrastructure/db/mongo"
	redisdb "github.com/ecommerce-platform/user-service/internal/infrastructure/db/redis"
)

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(db *mongo.Database, rdb *redis.Client, notifier ports.Notifier, mailer service.AsyncNotifier, cfg *config.Config, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echoprometheus.NewMiddleware("user_service"))

	// --- Dependencies ---
	userRepo := mongodb.NewUserRepository(db)
	tokens := service.NewTokenManager(userRepo)
	lockout := service.NewLockoutPolicy(cfg.Lockout.Threshold, cfg.Lockout.Duration)
	authService := service.NewAuthService(userRepo, tokens, lockout, notifier, mailer, service.AuthOptions{
		JWTSecret:       cfg.JWTSecret,
		TokenTTL:        cfg.TokenTTL,
		VerificationTTL: cfg.Tokens.VerificationTTL,
		ResetTTL:        cfg.Tokens.ResetTTL,
		FrontendURL:     cfg.FrontendURL,
	}, log)
	userService := service.NewUserService(userRepo, log)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)

	authMW := middleware.Auth(cfg.JWTSecret)
	limiter := middleware.NewRateLimiter(redisdb.NewCounterStore(rdb), cfg.RateLimit.Policy(), log)

	// The general tier wraps everything except health probes (exempted
	// inside the middleware) and the ops endpoints below.
	e.Use(limiter.Limit(middleware.TierGeneral))

	// --- Ops endpoints ---
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoswagger.WrapHandler)

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	readinessHandler := handler.NewReadinessHandler(db, rdb)

	e.GET("/health", healthHandler.Liveness)           // liveness  – is the process alive?
	e.GET("/health/ready", readinessHandler.Readiness) // readiness – are dependencies up?

	// --- Auth routes ---
	e.POST("/auth/register", authHandler.Register, limiter.Limit(middleware.TierRegistration))
	e.POST("/auth/login", authHandler.Login, limiter.Limit(middleware.TierAuth))
	e.POST("/auth/logout", authHandler.Logout, authMW)
	e.POST("/auth/forgot-password", authHandler.ForgotPassword, limiter.Limit(middleware.TierPasswordReset))
	e.PUT("/auth/reset-password/:token", authHandler.ResetPassword, limiter.Limit(middleware.TierPasswordReset))
	e.GET("/auth/verify-email/:token", authHandler.VerifyEmail)

	// --- Authenticated user routes ---
	users := e.Group("/users", authMW, limiter.Limit(middleware.TierAPI))
	users.GET("/profile", userHandler.GetProfile)
	users.PUT("/profile", userHandler.UpdateProfile)
	users.PUT("/change-password", authHandler.ChangePassword)

	// --- Admin routes ---
	admin := users.Group("", middleware.RBAC(domain.RoleAdmin))
	admin.GET("", userHandler.List)
	admin.GET("/:id", userHandler.Get)
	admin.PUT("/:id/activate", userHandler.Activate)
	admin.PUT("/:id/deactivate", userHandler.Deactivate)
	admin.DELETE("/:id", userHandler.Delete)

	return e
}
