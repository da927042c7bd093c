package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

var errSecondFactorNotEnabled = fmt.Errorf("%w: second factor is not enabled", models.ErrBadRequest)

// SecondFactorConfig holds second factor configuration
type SecondFactorConfig struct {
	RecoveryCASAttempts int // optimistic retries when consuming a recovery code
}

// SecondFactorSetup is returned once when a seed is generated
type SecondFactorSetup struct {
	Seed            string `json:"seed"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// SecondFactorService handles TOTP enrolment, verification and recovery codes
type SecondFactorService struct {
	store       IdentityStore
	sealer      Sealer
	totp        *auth.TOTPManager
	floor       *auth.TimingFloor
	clock       clock.Clock
	notifier    SecurityNotifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
	config      SecondFactorConfig
}

// NewSecondFactorService creates a new SecondFactorService. notifier may be nil.
func NewSecondFactorService(
	store IdentityStore,
	sealer Sealer,
	totpMgr *auth.TOTPManager,
	floor *auth.TimingFloor,
	clk clock.Clock,
	notifier SecurityNotifier,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
	config SecondFactorConfig,
) *SecondFactorService {
	if config.RecoveryCASAttempts <= 0 {
		config.RecoveryCASAttempts = 5
	}
	return &SecondFactorService{
		store:       store,
		sealer:      sealer,
		totp:        totpMgr,
		floor:       floor,
		clock:       clk,
		notifier:    notifier,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
		config:      config,
	}
}

func (s *SecondFactorService) load(ctx context.Context, principalID string) (*models.Principal, error) {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load principal", slog.String("principal_id", principalID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return p, nil
}

func (s *SecondFactorService) update(ctx context.Context, p *models.Principal, state models.SecondFactorState) (*models.Principal, error) {
	updated, err := s.store.UpdateSecondFactorState(ctx, p.ID, p.SecondFactorVersion, state)
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("failed to update second factor state", slog.String("principal_id", p.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return updated, nil
}

func (s *SecondFactorService) openSeed(p *models.Principal) (string, error) {
	if len(p.SecondFactorSeed) == 0 {
		return "", errors.New("no seed stored")
	}
	secret, err := s.sealer.Open(p.SecondFactorSeed)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

func (s *SecondFactorService) sealCodes(set models.RecoveryCodeSet) ([]byte, error) {
	plain, err := json.Marshal(set)
	if err != nil {
		return nil, err
	}
	return s.sealer.Seal(plain)
}

func (s *SecondFactorService) openCodes(sealed []byte) (models.RecoveryCodeSet, error) {
	var set models.RecoveryCodeSet
	if len(sealed) == 0 {
		return set, nil
	}
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return set, err
	}
	if err := json.Unmarshal(plain, &set); err != nil {
		return set, fmt.Errorf("failed to decode recovery codes: %w", err)
	}
	return set, nil
}

func (s *SecondFactorService) newCodeSet() (models.RecoveryCodeSet, []byte, error) {
	codes, err := auth.GenerateRecoveryCodes(models.RecoveryCodeCount)
	if err != nil {
		return models.RecoveryCodeSet{}, nil, err
	}
	set := models.RecoveryCodeSet{Codes: codes}
	sealed, err := s.sealCodes(set)
	if err != nil {
		return models.RecoveryCodeSet{}, nil, err
	}
	return set, sealed, nil
}

func (s *SecondFactorService) notify(ctx context.Context, p *models.Principal, event string) {
	s.auditLogger.LogSecondFactorChange(ctx, event, p.ID, true)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifySecurityEvent(ctx, p.Email, event, s.clock.Now()); err != nil {
		s.logger.Warn("failed to send security notification",
			slog.String("principal_id", p.ID),
			slog.String("event", event),
			slog.Any("error", err))
	}
}

// GenerateSecret stores a new unconfirmed seed, replacing any earlier pending one
func (s *SecondFactorService) GenerateSecret(ctx context.Context, principalID string) (*SecondFactorSetup, error) {
	p, err := s.load(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if p.SecondFactorEnabled {
		return nil, models.ErrConflict
	}

	seed, err := s.totp.GenerateSeed(p.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP seed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	sealed, err := s.sealer.Seal([]byte(seed.Secret))
	if err != nil {
		s.logger.Error("failed to seal TOTP seed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if _, err := s.update(ctx, p, models.PendingSecondFactor(sealed)); err != nil {
		return nil, err
	}

	s.logger.Info("second factor setup initiated", slog.String("principal_id", p.ID))
	return &SecondFactorSetup{
		Seed:            seed.Secret,
		ProvisioningURI: seed.ProvisioningURI,
		QRCode:          seed.QRCode,
	}, nil
}

// Confirm checks code against the pending seed and enables the second factor.
// The returned codes are never retrievable again.
func (s *SecondFactorService) Confirm(ctx context.Context, principalID, code string) (models.RecoveryCodeSet, error) {
	p, err := s.load(ctx, principalID)
	if err != nil {
		return models.RecoveryCodeSet{}, err
	}
	if p.SecondFactorEnabled {
		return models.RecoveryCodeSet{}, models.ErrConflict
	}
	if !p.HasPendingSecondFactor() {
		return models.RecoveryCodeSet{}, fmt.Errorf("%w: no pending second factor", models.ErrBadRequest)
	}

	secret, err := s.openSeed(p)
	if err != nil {
		s.logger.Error("failed to open pending seed", slog.String("principal_id", p.ID), slog.Any("error", err))
		return models.RecoveryCodeSet{}, models.ErrInternalServer
	}

	now := s.clock.Now()
	if !s.totp.ValidateAt(secret, code, now) {
		s.auditLogger.LogSecondFactorChange(ctx, EventSecondFactorEnabled, p.ID, false)
		return models.RecoveryCodeSet{}, models.ErrInvalidCode
	}

	set, sealedCodes, err := s.newCodeSet()
	if err != nil {
		s.logger.Error("failed to generate recovery codes", slog.Any("error", err))
		return models.RecoveryCodeSet{}, models.ErrInternalServer
	}

	state := models.EnabledSecondFactor(p.SecondFactorSeed, sealedCodes, now.UTC())
	if _, err := s.update(ctx, p, state); err != nil {
		return models.RecoveryCodeSet{}, err
	}

	s.logger.Info("second factor enabled", slog.String("principal_id", p.ID))
	s.notify(ctx, p, EventSecondFactorEnabled)
	return set, nil
}

// Verify checks a TOTP code or consumes a recovery code. Every path takes at
// least the timing floor and any failure yields false.
func (s *SecondFactorService) Verify(ctx context.Context, principalID, code string) (ok bool) {
	defer s.floor.Guard()()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during second factor verification", slog.Any("panic", r))
			ok = false
		}
	}()

	method := "totp"
	if auth.IsRecoveryCodeShape(code) {
		method = "recovery"
		ok = s.consumeRecoveryCode(ctx, principalID, code)
	} else {
		ok = s.verifyTOTP(ctx, principalID, code)
	}
	s.metrics.ObserveSecondFactor(method, ok)
	return ok
}

func (s *SecondFactorService) verifyTOTP(ctx context.Context, principalID, code string) bool {
	p, err := s.store.FindByID(ctx, principalID)
	if err != nil || !p.SecondFactorEnabled {
		return false
	}
	secret, err := s.openSeed(p)
	if err != nil {
		s.logger.Error("failed to open seed", slog.String("principal_id", principalID), slog.Any("error", err))
		return false
	}
	return s.totp.ValidateAt(secret, code, s.clock.Now())
}

// consumeRecoveryCode removes a matching code with a version-checked write,
// re-reading and re-applying on conflict so a concurrent removal is never lost.
func (s *SecondFactorService) consumeRecoveryCode(ctx context.Context, principalID, code string) bool {
	for attempt := 0; attempt < s.config.RecoveryCASAttempts; attempt++ {
		p, err := s.store.FindByID(ctx, principalID)
		if err != nil || !p.SecondFactorEnabled {
			return false
		}

		set, err := s.openCodes(p.RecoveryCodes)
		if err != nil {
			s.logger.Error("failed to open recovery codes", slog.String("principal_id", principalID), slog.Any("error", err))
			return false
		}
		i := auth.MatchRecoveryCode(set.Codes, code)
		if i < 0 {
			return false
		}

		sealed, err := s.sealCodes(set.Without(i))
		if err != nil {
			s.logger.Error("failed to seal recovery codes", slog.Any("error", err))
			return false
		}

		_, err = s.store.UpdateSecondFactorState(ctx, p.ID, p.SecondFactorVersion, p.SecondFactorState().WithRecoveryCodes(sealed))
		if err == nil {
			s.logger.Info("recovery code consumed",
				slog.String("principal_id", principalID),
				slog.Int("remaining", set.Remaining()-1))
			return true
		}
		if !errors.Is(err, models.ErrConflict) {
			s.logger.Error("failed to store recovery codes", slog.String("principal_id", principalID), slog.Any("error", err))
			return false
		}
	}

	s.logger.Warn("recovery code consumption gave up after conflicts", slog.String("principal_id", principalID))
	return false
}

// Regenerate replaces the whole recovery code set; earlier codes stop working immediately
func (s *SecondFactorService) Regenerate(ctx context.Context, principalID string) (models.RecoveryCodeSet, error) {
	p, err := s.load(ctx, principalID)
	if err != nil {
		return models.RecoveryCodeSet{}, err
	}
	if !p.SecondFactorEnabled {
		return models.RecoveryCodeSet{}, errSecondFactorNotEnabled
	}

	set, sealed, err := s.newCodeSet()
	if err != nil {
		s.logger.Error("failed to generate recovery codes", slog.Any("error", err))
		return models.RecoveryCodeSet{}, models.ErrInternalServer
	}

	if _, err := s.update(ctx, p, p.SecondFactorState().WithRecoveryCodes(sealed)); err != nil {
		return models.RecoveryCodeSet{}, err
	}

	s.logger.Info("recovery codes regenerated", slog.String("principal_id", p.ID))
	s.notify(ctx, p, EventRecoveryCodesRegenerated)
	return set, nil
}

// Disable clears seed, confirmation and recovery codes in one write
func (s *SecondFactorService) Disable(ctx context.Context, principalID string) error {
	for attempt := 0; attempt < s.config.RecoveryCASAttempts; attempt++ {
		p, err := s.load(ctx, principalID)
		if err != nil {
			return err
		}
		if !p.SecondFactorEnabled && !p.HasPendingSecondFactor() {
			return errSecondFactorNotEnabled
		}

		_, err = s.update(ctx, p, models.DisabledSecondFactor())
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}

		s.logger.Info("second factor disabled", slog.String("principal_id", p.ID))
		if p.SecondFactorEnabled {
			s.notify(ctx, p, EventSecondFactorDisabled)
		}
		return nil
	}
	return models.ErrConflict
}

// Status summarises the principal's second factor without exposing secrets
func (s *SecondFactorService) Status(ctx context.Context, principalID string) (*models.SecondFactorStatus, error) {
	p, err := s.load(ctx, principalID)
	if err != nil {
		return nil, err
	}

	status := &models.SecondFactorStatus{
		Enabled:     p.SecondFactorEnabled,
		ConfirmedAt: p.SecondFactorConfirmedAt,
		Pending:     p.HasPendingSecondFactor(),
	}
	if p.SecondFactorEnabled {
		set, err := s.openCodes(p.RecoveryCodes)
		if err != nil {
			s.logger.Error("failed to open recovery codes", slog.String("principal_id", p.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		status.RecoveryCodesRemaining = set.Remaining()
	}
	return status, nil
}
