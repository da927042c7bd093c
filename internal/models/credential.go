package models

import (
	"strings"
	"time"
)

// CredentialKind distinguishes access credentials from refresh credentials
type CredentialKind string

const (
	KindAccess  CredentialKind = "access"
	KindRefresh CredentialKind = "refresh"
)

// RefreshSuffix links a refresh credential id to the access credential id it was minted with
const RefreshSuffix = "_refresh"

// Quotas are the usage limits advertised in every access credential
type Quotas struct {
	DailyScans      int    `json:"daily_scans"`
	ConcurrentScans int    `json:"concurrent_scans"`
	Plan            string `json:"plan"`
}

// DefaultQuotas returns the free plan limits
func DefaultQuotas() Quotas {
	return Quotas{DailyScans: 10, ConcurrentScans: 2, Plan: "free"}
}

// Credential is the decoded form of a signed session credential
type Credential struct {
	ID                   string
	Family               string
	Subject              string
	Email                string
	Kind                 CredentialKind
	IssuedAt             time.Time
	NotBefore            time.Time
	ExpiresAt            time.Time
	SecondFactorVerified bool
	ScanPermissions      []string
	Quotas               Quotas
}

// IsAccess reports whether c is an access credential
func (c *Credential) IsAccess() bool {
	return c.Kind == KindAccess
}

// IsRefresh reports whether c is a refresh credential
func (c *Credential) IsRefresh() bool {
	return c.Kind == KindRefresh
}

// HasPermission reports whether c grants the capability tag
func (c *Credential) HasPermission(permission string) bool {
	for _, p := range c.ScanPermissions {
		if p == permission {
			return true
		}
	}
	return false
}

// PairedID returns the id of the other half of the pair c belongs to
func (c *Credential) PairedID() string {
	return PairedID(c.ID)
}

// RefreshIDFor derives the refresh credential id for an access id
func RefreshIDFor(accessID string) string {
	return accessID + RefreshSuffix
}

// AccessIDFor derives the access credential id for a refresh id
func AccessIDFor(refreshID string) string {
	return strings.TrimSuffix(refreshID, RefreshSuffix)
}

// PairedID maps an access id to its refresh id and vice versa
func PairedID(id string) string {
	if strings.HasSuffix(id, RefreshSuffix) {
		return AccessIDFor(id)
	}
	return RefreshIDFor(id)
}
