package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AudienceAccess  = "warden-access"
	AudienceRefresh = "warden-refresh"
)

// SigningKeySource supplies the HMAC key for credentials
type SigningKeySource interface {
	SigningKey() []byte
}

// credentialClaims is the wire form of a models.Credential
type credentialClaims struct {
	Type                 string         `json:"type"`
	Family               string         `json:"fam"`
	Email                string         `json:"email,omitempty"`
	SecondFactorVerified bool           `json:"two_factor_verified"`
	ScanPermissions      []string       `json:"scan_permissions,omitempty"`
	Quotas               *models.Quotas `json:"quotas,omitempty"`
	jwt.RegisteredClaims
}

// CredentialCodec signs and verifies session credentials (HS256)
type CredentialCodec struct {
	keys   SigningKeySource
	clock  clock.Clock
	issuer string
	parser *jwt.Parser
}

// NewCredentialCodec creates a new CredentialCodec
func NewCredentialCodec(keys SigningKeySource, clk clock.Clock, issuer string) *CredentialCodec {
	return &CredentialCodec{
		keys:   keys,
		clock:  clk,
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Encode serializes and signs c
func (cc *CredentialCodec) Encode(c *models.Credential) (string, error) {
	if err := checkShape(c); err != nil {
		return "", fmt.Errorf("refusing to encode credential: %w", err)
	}

	claims := &credentialClaims{
		Type:                 string(c.Kind),
		Family:               c.Family,
		Email:                c.Email,
		SecondFactorVerified: c.SecondFactorVerified,
		ScanPermissions:      c.ScanPermissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.ID,
			Subject:   c.Subject,
			Issuer:    cc.issuer,
			Audience:  jwt.ClaimStrings{audienceFor(c.Kind)},
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			NotBefore: jwt.NewNumericDate(c.NotBefore),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	if c.IsAccess() {
		q := c.Quotas
		claims.Quotas = &q
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cc.keys.SigningKey())
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature, then the validity window, then the structure of token
func (cc *CredentialCodec) Decode(token string) (*models.Credential, error) {
	return cc.decode(token, true)
}

// DecodeIgnoringTime verifies signature and structure but not the validity window
func (cc *CredentialCodec) DecodeIgnoringTime(token string) (*models.Credential, error) {
	return cc.decode(token, false)
}

func (cc *CredentialCodec) decode(token string, checkTime bool) (*models.Credential, error) {
	raw := jwt.MapClaims{}
	_, err := cc.parser.ParseWithClaims(token, raw, func(t *jwt.Token) (interface{}, error) {
		return cc.keys.SigningKey(), nil
	})
	if err != nil {
		return nil, models.NewAuthError(models.KindTamperedCredential, err)
	}

	claims, err := toCredentialClaims(raw)
	if err != nil {
		return nil, models.NewAuthError(models.KindNotWellFormed, err)
	}
	if claims.IssuedAt == nil || claims.NotBefore == nil || claims.ExpiresAt == nil {
		return nil, models.NewAuthError(models.KindNotWellFormed, errors.New("missing time claims"))
	}

	if checkTime {
		now := cc.clock.Now()
		if !now.Before(claims.ExpiresAt.Time) {
			return nil, models.NewAuthError(models.KindExpired, nil)
		}
		if now.Before(claims.NotBefore.Time) {
			return nil, models.NewAuthError(models.KindNotYetValid, nil)
		}
	}

	c := &models.Credential{
		ID:                   claims.ID,
		Family:               claims.Family,
		Subject:              claims.Subject,
		Email:                claims.Email,
		Kind:                 models.CredentialKind(claims.Type),
		IssuedAt:             claims.IssuedAt.Time.UTC(),
		NotBefore:            claims.NotBefore.Time.UTC(),
		ExpiresAt:            claims.ExpiresAt.Time.UTC(),
		SecondFactorVerified: claims.SecondFactorVerified,
		ScanPermissions:      claims.ScanPermissions,
	}
	if claims.Quotas != nil {
		c.Quotas = *claims.Quotas
	}

	if err := checkShape(c); err != nil {
		return nil, models.NewAuthError(models.KindNotWellFormed, err)
	}
	if claims.Issuer != cc.issuer {
		return nil, models.NewAuthError(models.KindNotWellFormed, fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != audienceFor(c.Kind) {
		return nil, models.NewAuthError(models.KindNotWellFormed, errors.New("audience does not match credential kind"))
	}

	return c, nil
}

func toCredentialClaims(raw jwt.MapClaims) (*credentialClaims, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	claims := &credentialClaims{}
	if err := json.Unmarshal(b, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// checkShape enforces the structural invariants shared by Encode and Decode
func checkShape(c *models.Credential) error {
	switch {
	case c.Subject == "":
		return errors.New("missing subject")
	case c.ID == "":
		return errors.New("missing id")
	case c.Family == "":
		return errors.New("missing family")
	case c.Kind != models.KindAccess && c.Kind != models.KindRefresh:
		return fmt.Errorf("unknown credential kind %q", c.Kind)
	case c.IsRefresh() != strings.HasSuffix(c.ID, models.RefreshSuffix):
		return errors.New("id does not match credential kind")
	case c.NotBefore.After(c.IssuedAt):
		return errors.New("not-before is after issued-at")
	case !c.IssuedAt.Before(c.ExpiresAt):
		return errors.New("issued-at is not before expiry")
	}
	return nil
}

func audienceFor(kind models.CredentialKind) string {
	if kind == models.KindRefresh {
		return AudienceRefresh
	}
	return AudienceAccess
}

// TruncateToPrecision drops sub-second precision so times survive an encode/decode round trip
func TruncateToPrecision(t time.Time) time.Time {
	return t.Truncate(jwt.TimePrecision).UTC()
}
