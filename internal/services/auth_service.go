package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/ratelimit"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// LoginRequest is the input of one login attempt
type LoginRequest struct {
	Email            string
	Password         string
	SecondFactorCode string
}

// LoginResult is the outcome of a login attempt that did not fail.
// Session is nil unless State is FlowAuthenticated.
type LoginResult struct {
	State       models.FlowState
	PrincipalID string
	Session     *SessionResponse
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	BcryptCost int
}

// AuthService drives the login state machine and registration
type AuthService struct {
	store        IdentityStore
	sessions     *SessionService
	secondFactor *SecondFactorService
	limiter      Limiter
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	metrics      *metrics.Metrics
	config       AuthConfig
	dummyHash    string
}

// NewAuthService creates a new AuthService. limiter may be nil.
func NewAuthService(
	store IdentityStore,
	sessions *SessionService,
	secondFactor *SecondFactorService,
	limiter Limiter,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
	config AuthConfig,
) (*AuthService, error) {
	if config.BcryptCost == 0 {
		config.BcryptCost = pkgauth.BcryptCost
	}
	dummy, err := pkgauth.DummyHash(config.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &AuthService{
		store:        store,
		sessions:     sessions,
		secondFactor: secondFactor,
		limiter:      limiter,
		logger:       logger,
		auditLogger:  auditLogger,
		metrics:      m,
		config:       config,
		dummyHash:    dummy,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) reject(ctx context.Context, key string, event pkglogger.AuditEvent, err error) (*LoginResult, error) {
	if s.limiter != nil {
		s.limiter.Failure(ctx, key)
	}
	event.EventType = "login_failed"
	event.FailureReason = string(models.KindOf(err))
	s.auditLogger.LogAuthAttempt(ctx, event)
	s.metrics.ObserveLogin(event.FailureReason)
	return nil, err
}

// Login authenticates email and password and, when the principal has a second
// factor, the supplied code. Without a code it stops at FlowAwaitingSecondFactor.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := normalizeEmail(req.Email)
	key := ratelimit.EmailKey(email)
	event := pkglogger.AuditEvent{EmailHash: pkglogger.EmailHash(email)}

	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, key); err != nil {
			event.EventType = "login_failed"
			event.FailureReason = string(models.KindRateLimited)
			s.auditLogger.LogAuthAttempt(ctx, event)
			s.metrics.ObserveLogin(string(models.KindRateLimited))
			return nil, err
		}
	}

	p, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up principal", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		// Same bcrypt cost as a real comparison
		_ = pkgauth.ComparePassword(s.dummyHash, req.Password)
		return s.reject(ctx, key, event, models.ErrInvalidCredentials)
	}

	event.PrincipalID = p.ID
	if !s.store.CheckPassword(p, req.Password) {
		return s.reject(ctx, key, event, models.ErrInvalidCredentials)
	}

	verified := false
	if p.SecondFactorEnabled {
		if req.SecondFactorCode == "" {
			event.EventType = "login_second_factor_required"
			event.Success = true
			s.auditLogger.LogAuthAttempt(ctx, event)
			s.metrics.ObserveLogin(string(models.KindSecondFactorRequired))
			return &LoginResult{State: models.FlowAwaitingSecondFactor, PrincipalID: p.ID}, nil
		}
		if !s.secondFactor.Verify(ctx, p.ID, req.SecondFactorCode) {
			return s.reject(ctx, key, event, models.ErrInvalidSecondFactor)
		}
		verified = true
	}

	session, err := s.sessions.Issue(ctx, p, verified)
	if err != nil {
		s.metrics.ObserveLogin("error")
		return nil, err
	}

	if s.limiter != nil {
		s.limiter.Success(ctx, key)
	}
	event.EventType = "login_success"
	event.Success = true
	s.auditLogger.LogAuthAttempt(ctx, event)
	s.metrics.ObserveLogin("success")
	s.logger.Info("principal logged in", slog.String("principal_id", p.ID), slog.Bool("second_factor", verified))

	return &LoginResult{State: models.FlowAuthenticated, PrincipalID: p.ID, Session: session}, nil
}

// Register creates a principal and issues its first session
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*SessionResponse, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, models.ErrBadRequest
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := pkgauth.HashPasswordWithCost(password, s.config.BcryptCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	p, err := s.store.Create(ctx, &models.Principal{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
				EventType:     "register_failed",
				EmailHash:     pkglogger.EmailHash(email),
				FailureReason: "email_taken",
			})
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:   "register_success",
		PrincipalID: p.ID,
		Success:     true,
	})
	return s.sessions.Issue(ctx, p, false)
}

func (s *AuthService) loadForReauth(ctx context.Context, principalID string) (*models.Principal, error) {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to load principal", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return p, nil
}

// reauthFailed charges a failed re-authentication to the principal's login bucket
func (s *AuthService) reauthFailed(ctx context.Context, p *models.Principal, key string, err error) error {
	if s.limiter != nil {
		s.limiter.Failure(ctx, key)
	}
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     "reauthentication_failed",
		PrincipalID:   p.ID,
		FailureReason: string(models.KindOf(err)),
	})
	return err
}

// VerifyPassword re-authenticates a principal before a sensitive change.
// Failures count against the same per-email bucket as login; success does not
// reset it, so a known password cannot be used to refill code guesses.
func (s *AuthService) VerifyPassword(ctx context.Context, principalID, password string) error {
	p, err := s.loadForReauth(ctx, principalID)
	if err != nil {
		return err
	}
	key := ratelimit.EmailKey(p.Email)
	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, key); err != nil {
			return err
		}
	}
	if !s.store.CheckPassword(p, password) {
		return s.reauthFailed(ctx, p, key, models.ErrInvalidCredentials)
	}
	return nil
}

// VerifySecondFactor checks a TOTP or recovery code for an authenticated
// principal, sharing the per-email bucket with login.
func (s *AuthService) VerifySecondFactor(ctx context.Context, principalID, code string) error {
	p, err := s.loadForReauth(ctx, principalID)
	if err != nil {
		return err
	}
	key := ratelimit.EmailKey(p.Email)
	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, key); err != nil {
			return err
		}
	}
	if code == "" || !s.secondFactor.Verify(ctx, p.ID, code) {
		return s.reauthFailed(ctx, p, key, models.ErrInvalidSecondFactor)
	}
	if s.limiter != nil {
		s.limiter.Success(ctx, key)
	}
	return nil
}

// Me returns the public view of a principal
func (s *AuthService) Me(ctx context.Context, principalID string) (*PrincipalResponse, error) {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load principal", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return principalToResponse(p), nil
}
