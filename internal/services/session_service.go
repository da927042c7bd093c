package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/ids"
	"github.com/BradenHooton/warden/internal/ledger"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// SessionConfig holds credential lifetimes and rotation policy
type SessionConfig struct {
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	ReuseDetection bool
	Quotas         models.Quotas
}

// PrincipalResponse is the principal summary returned with a session
type PrincipalResponse struct {
	ID                  string `json:"id"`
	Email               string `json:"email"`
	Name                string `json:"name"`
	SecondFactorEnabled bool   `json:"second_factor_enabled"`
}

// SessionResponse is a freshly minted credential pair
type SessionResponse struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	TokenType    string             `json:"token_type"`
	ExpiresIn    int64              `json:"expires_in"`
	User         *PrincipalResponse `json:"user"`
}

// SessionService issues, validates, rotates and revokes credential pairs
type SessionService struct {
	codec       *auth.CredentialCodec
	ledger      ledger.Ledger
	store       IdentityStore
	clock       clock.Clock
	config      SessionConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
}

// NewSessionService creates a new SessionService. The ledger should already be
// wrapped in ledger.Guarded so that backend failures reject credentials.
func NewSessionService(
	codec *auth.CredentialCodec,
	l ledger.Ledger,
	store IdentityStore,
	clk clock.Clock,
	config SessionConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *SessionService {
	return &SessionService{
		codec:       codec,
		ledger:      l,
		store:       store,
		clock:       clk,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
	}
}

func principalToResponse(p *models.Principal) *PrincipalResponse {
	return &PrincipalResponse{
		ID:                  p.ID,
		Email:               p.Email,
		Name:                p.Name,
		SecondFactorEnabled: p.SecondFactorEnabled,
	}
}

// Issue mints a new pair for p in a new family
func (s *SessionService) Issue(ctx context.Context, p *models.Principal, secondFactorVerified bool) (*SessionResponse, error) {
	return s.mint(ctx, p, "", secondFactorVerified && p.SecondFactorEnabled)
}

// mint creates, records and encodes a pair. An empty family starts a new one.
func (s *SessionService) mint(ctx context.Context, p *models.Principal, family string, verified bool) (*SessionResponse, error) {
	now := auth.TruncateToPrecision(s.clock.Now())
	accessID := ids.New(now)
	if family == "" {
		family = accessID
	}

	access := &models.Credential{
		ID:                   accessID,
		Family:               family,
		Subject:              p.ID,
		Email:                p.Email,
		Kind:                 models.KindAccess,
		IssuedAt:             now,
		NotBefore:            now,
		ExpiresAt:            now.Add(s.config.AccessTTL),
		SecondFactorVerified: verified,
		ScanPermissions:      models.PermissionsFor(p),
		Quotas:               s.config.Quotas,
	}
	refresh := &models.Credential{
		ID:                   models.RefreshIDFor(accessID),
		Family:               family,
		Subject:              p.ID,
		Email:                p.Email,
		Kind:                 models.KindRefresh,
		IssuedAt:             now,
		NotBefore:            now,
		ExpiresAt:            now.Add(s.config.RefreshTTL),
		SecondFactorVerified: verified,
	}

	for _, c := range []*models.Credential{access, refresh} {
		if err := s.ledger.Record(ctx, ledger.Entry{
			ID:          c.ID,
			PrincipalID: p.ID,
			Family:      family,
			ExpiresAt:   c.ExpiresAt,
		}); err != nil {
			s.logger.Error("failed to record credential", slog.String("principal_id", p.ID), slog.Any("error", err))
			return nil, err
		}
	}

	accessToken, err := s.codec.Encode(access)
	if err != nil {
		s.logger.Error("failed to encode access credential", slog.String("principal_id", p.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	refreshToken, err := s.codec.Encode(refresh)
	if err != nil {
		s.logger.Error("failed to encode refresh credential", slog.String("principal_id", p.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &SessionResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTTL.Seconds()),
		User:         principalToResponse(p),
	}, nil
}

// Validate decodes an access credential and checks the ledger
func (s *SessionService) Validate(ctx context.Context, accessToken string) (*models.Credential, error) {
	c, err := s.codec.Decode(accessToken)
	if err != nil {
		s.metrics.ObserveRejection(string(models.KindOf(err)))
		s.logRejection(ctx, "validate", nil, err)
		return nil, err
	}
	if !c.IsAccess() {
		s.metrics.ObserveRejection(string(models.KindWrongCredentialKind))
		s.logRejection(ctx, "validate", c, models.ErrWrongCredentialKind)
		return nil, models.ErrWrongCredentialKind
	}

	revoked, err := s.ledger.IsBlacklisted(ctx, c.ID)
	if err != nil {
		s.metrics.ObserveRejection(string(models.KindOf(err)))
		return nil, err
	}
	if revoked {
		s.metrics.ObserveRejection(string(models.KindRevoked))
		s.logRejection(ctx, "validate", c, models.ErrRevoked)
		return nil, models.ErrRevoked
	}
	return c, nil
}

// logRejection writes an audit record for a rejected credential. c is nil when
// the token did not decode. Plain expiry is routine and not recorded.
func (s *SessionService) logRejection(ctx context.Context, operation string, c *models.Credential, err error) {
	if !models.IsCredentialRejection(err) || models.KindOf(err) == models.KindExpired {
		return
	}
	event := pkglogger.AuditEvent{
		EventType:     "credential_rejected",
		FailureReason: string(models.KindOf(err)),
		Metadata:      map[string]string{"operation": operation},
	}
	if c != nil {
		event.PrincipalID = c.Subject
	}
	s.auditLogger.LogAuthAttempt(ctx, event)
}

// Refresh consumes a refresh credential and mints its successor pair in the same family.
// Exactly one of several concurrent calls with the same token succeeds.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*SessionResponse, error) {
	resp, err := s.refresh(ctx, refreshToken)
	if err != nil {
		outcome := string(models.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		s.metrics.ObserveRefresh(outcome)
		return nil, err
	}
	s.metrics.ObserveRefresh("success")
	return resp, nil
}

func (s *SessionService) refresh(ctx context.Context, refreshToken string) (*SessionResponse, error) {
	c, err := s.codec.Decode(refreshToken)
	if err != nil {
		s.logRejection(ctx, "refresh", nil, err)
		return nil, err
	}
	if !c.IsRefresh() {
		s.logRejection(ctx, "refresh", c, models.ErrWrongCredentialKind)
		return nil, models.ErrWrongCredentialKind
	}

	revoked, err := s.ledger.IsBlacklisted(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		s.handleReuse(ctx, c)
		return nil, models.ErrRevoked
	}

	won, err := s.ledger.Consume(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		s.logger.Info("refresh lost consume race", slog.String("principal_id", c.Subject))
		s.logRejection(ctx, "refresh", c, models.ErrRevoked)
		return nil, models.ErrRevoked
	}

	if err := s.ledger.Blacklist(ctx, models.AccessIDFor(c.ID)); err != nil {
		return nil, err
	}

	p, err := s.store.FindByID(ctx, c.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("refresh for deleted principal", slog.String("principal_id", c.Subject))
			return nil, models.ErrRevoked
		}
		s.logger.Error("failed to load principal for refresh", slog.String("principal_id", c.Subject), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// The flag is carried forward, never raised: a principal that lost its
	// second factor since login also loses the verified flag.
	return s.mint(ctx, p, c.Family, c.SecondFactorVerified && p.SecondFactorEnabled)
}

// handleReuse revokes every credential descended from the same login
func (s *SessionService) handleReuse(ctx context.Context, c *models.Credential) {
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     "refresh_reuse_detected",
		PrincipalID:   c.Subject,
		FailureReason: "revoked_refresh_presented",
		Metadata:      map[string]string{"family": c.Family},
	})
	if !s.config.ReuseDetection {
		return
	}

	n, err := s.ledger.BlacklistFamily(ctx, c.Family)
	if err != nil {
		s.logger.Error("failed to revoke credential family", slog.String("principal_id", c.Subject), slog.Any("error", err))
		return
	}
	s.logger.Warn("revoked credential family after refresh reuse",
		slog.String("principal_id", c.Subject),
		slog.Int64("revoked", n))
}

// Revoke blacklists the presented credential and its pair. Expiry is ignored,
// so logging out with a lapsed access credential still ends the refresh side.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	c, err := s.codec.DecodeIgnoringTime(token)
	if err != nil {
		s.logRejection(ctx, "revoke", nil, err)
		return err
	}

	if err := s.ledger.Blacklist(ctx, c.ID); err != nil {
		return err
	}
	if err := s.ledger.Blacklist(ctx, c.PairedID()); err != nil {
		return err
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:   "logout",
		PrincipalID: c.Subject,
		Success:     true,
	})
	return nil
}
