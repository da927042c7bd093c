package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
)

// Dependencies are the handlers and collaborators the routes are built from
type Dependencies struct {
	AuthHandler         *handlers.AuthHandler
	SecondFactorHandler *handlers.SecondFactorHandler
	HealthHandler       *handlers.HealthHandler
	Validator           auth.CredentialValidator
	MetricsHandler      http.Handler
	RateLimit           middleware.RateLimitConfig
	Logger              *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	authenticate := auth.Authenticate(deps.Validator, deps.Logger)

	router.Get("/health", deps.HealthHandler.Health)
	if deps.MetricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Public routes, limited per client IP
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.RateLimit))

		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/refresh", deps.AuthHandler.RefreshToken)
		r.Post("/auth/logout", deps.AuthHandler.Logout)
	})

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/auth/me", deps.AuthHandler.Me)

		r.Route("/2fa", func(r chi.Router) {
			r.Get("/status", deps.SecondFactorHandler.Status)
			r.Post("/generate", deps.SecondFactorHandler.Generate)
			r.Post("/confirm", deps.SecondFactorHandler.Confirm)
			r.Post("/disable", deps.SecondFactorHandler.Disable)
			r.Post("/recovery-codes", deps.SecondFactorHandler.RegenerateRecoveryCodes)
		})

		r.With(auth.RequirePermission(models.PermissionBasicScan)).Get("/scans/quota", deps.AuthHandler.Quota)
	})
}
