package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/ledger"
	"github.com/BradenHooton/warden/internal/metrics"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/ratelimit"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/secrets"
	"github.com/BradenHooton/warden/internal/services"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = newLogger(cfg.Server)
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Server.StorageBackend),
		slog.String("ledger", cfg.Ledger.Backend))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	clk := clock.System{}
	healthChecks := map[string]handlers.HealthChecker{}

	// Initialize database
	var db *database.DB
	if cfg.UsesPostgres() {
		db, err = database.NewConnection(startupCtx, &cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		healthChecks["database"] = db

		if err := db.Migrate(startupCtx); err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Identity store
	var store services.IdentityStore
	switch cfg.Server.StorageBackend {
	case config.StorageMemory:
		logger.Warn("using in-memory identity store; principals are lost on restart")
		store = repositories.NewMemoryPrincipalRepository()
	default:
		store = repositories.NewPrincipalRepository(db)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Revocation ledger, fail closed behind timeouts and retries
	opened, err := ledger.Open(startupCtx, cfg, db, clk, logger)
	if err != nil {
		logger.Error("failed to open revocation ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer opened.Close()
	if opened.Health != nil {
		healthChecks["ledger"] = opened.Health
	}
	revocations := ledger.NewGuarded(opened.Ledger, ledger.GuardConfig{
		Timeout:    cfg.Ledger.Timeout,
		RetryDelay: cfg.Ledger.RetryDelay,
		Retries:    cfg.Ledger.Retries,
	}, logger, m.ObserveLedgerError)

	// Keys
	secretStore, err := secrets.NewStore([]byte(cfg.Auth.JWTSecret), cfg.Auth.SealKey)
	if err != nil {
		logger.Error("failed to initialize secret store", slog.Any("error", err))
		os.Exit(1)
	}

	// Security notifications
	var notifier services.SecurityNotifier = services.NewLogNotifier(logger)
	if cfg.Email.Enabled {
		sesNotifier, err := services.NewSESNotifier(startupCtx, cfg.Email.Region, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	codec := auth.NewCredentialCodec(secretStore, clk, cfg.Auth.Issuer)
	limiter := ratelimit.NewKeyedLimiter(ratelimit.Config{
		MaxFailures: cfg.RateLimit.LoginMaxFailures,
		Window:      cfg.RateLimit.LoginWindow,
	}, clk)
	timingFloor := auth.NewTimingFloor(auth.TimingConfig{
		Floor:         cfg.Auth.TimingFloor,
		RandomDelayMs: cfg.Auth.TimingJitterMs,
	})

	// Initialize services
	sessionService := services.NewSessionService(codec, revocations, store, clk, services.SessionConfig{
		AccessTTL:      cfg.Auth.AccessTokenExpiry,
		RefreshTTL:     cfg.Auth.RefreshTokenExpiry,
		ReuseDetection: cfg.Auth.ReuseDetection,
		Quotas:         cfg.Auth.Quotas,
	}, logger, auditLogger, m)

	secondFactorService := services.NewSecondFactorService(store, secretStore, auth.NewTOTPManager(cfg.Auth.TOTPIssuer),
		timingFloor, clk, notifier, logger, auditLogger, m,
		services.SecondFactorConfig{RecoveryCASAttempts: cfg.Auth.RecoveryCASAttempts})

	authService, err := services.NewAuthService(store, sessionService, secondFactorService, limiter, logger, auditLogger, m,
		services.AuthConfig{BcryptCost: cfg.Auth.BcryptCost})
	if err != nil {
		logger.Error("failed to initialize auth service", slog.Any("error", err))
		os.Exit(1)
	}

	// Background purge of expired ledger entries
	cleanupManager := background.NewCleanupManager(revocations, logger, cfg.Auth.CleanupInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.CorrelationID)
	router.Use(m.Instrument)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:         handlers.NewAuthHandler(authService, sessionService, logger),
		SecondFactorHandler: handlers.NewSecondFactorHandler(secondFactorService, authService, logger),
		HealthHandler:       handlers.NewHealthHandler(healthChecks, logger),
		Validator:           sessionService,
		MetricsHandler:      metrics.Handler(registry),
		RateLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.IPRequestsPerMin,
			TrustedProxies:    cfg.Server.TrustedProxies,
		},
		Logger: logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// newLogger builds the process logger: JSON in production, tint-colored text otherwise
func newLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.LogFormat == "text" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
