package auth

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	TOTPPeriod = 30
	TOTPSkew   = 1 // accepted steps either side of the current one
	TOTPDigits = otp.DigitsSix
)

// TOTPSeed is a freshly generated seed with its provisioning data
type TOTPSeed struct {
	Secret          string // base32
	ProvisioningURI string
	QRCode          string // PNG data URL
}

// TOTPManager handles TOTP seed generation and code validation
type TOTPManager struct {
	issuer string
}

// NewTOTPManager creates a new TOTP manager
func NewTOTPManager(issuer string) *TOTPManager {
	return &TOTPManager{issuer: issuer}
}

func (tm *TOTPManager) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      TOTPSkew,
		Digits:    TOTPDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// GenerateSeed creates a new 160-bit seed for accountName
func (tm *TOTPManager) GenerateSeed(accountName string) (*TOTPSeed, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      TOTPPeriod,
		Digits:      TOTPDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := QRCodeDataURL(key.URL())
	if err != nil {
		return nil, err
	}

	return &TOTPSeed{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          qr,
	}, nil
}

// QRCodeDataURL renders content as a PNG data URL
func QRCodeDataURL(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// ValidateAt checks code against secret at time at, allowing ±TOTPSkew steps
func (tm *TOTPManager) ValidateAt(secret, code string, at time.Time) bool {
	if len(code) != int(TOTPDigits) {
		return false
	}
	valid, err := totp.ValidateCustom(code, secret, at.UTC(), tm.validateOpts())
	if err != nil {
		return false
	}
	return valid
}

// CodeAt generates the code for secret at time at
func (tm *TOTPManager) CodeAt(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at.UTC(), tm.validateOpts())
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}
