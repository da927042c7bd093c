package models

import (
	"time"
)

// Principal is an authenticated identity as held by the identity store
type Principal struct {
	ID                      string
	Email                   string
	Name                    string
	PasswordHash            string
	SecondFactorEnabled     bool
	SecondFactorSeed        []byte // sealed
	RecoveryCodes           []byte // sealed RecoveryCodeSet
	SecondFactorConfirmedAt *time.Time
	SecondFactorVersion     int64 // bumped on every second-factor mutation
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// SecondFactorState returns the current second-factor fields as a state value
func (p *Principal) SecondFactorState() SecondFactorState {
	return SecondFactorState{
		enabled:       p.SecondFactorEnabled,
		seed:          p.SecondFactorSeed,
		recoveryCodes: p.RecoveryCodes,
		confirmedAt:   p.SecondFactorConfirmedAt,
	}
}

// ApplySecondFactorState overwrites the second-factor fields of p and bumps the version
func (p *Principal) ApplySecondFactorState(state SecondFactorState) {
	p.SecondFactorEnabled = state.enabled
	p.SecondFactorSeed = state.seed
	p.RecoveryCodes = state.recoveryCodes
	p.SecondFactorConfirmedAt = state.confirmedAt
	p.SecondFactorVersion++
}

// HasPendingSecondFactor reports whether a seed was generated but not yet confirmed
func (p *Principal) HasPendingSecondFactor() bool {
	return !p.SecondFactorEnabled && len(p.SecondFactorSeed) > 0
}

// Clone returns a deep copy of p
func (p *Principal) Clone() *Principal {
	c := *p
	c.SecondFactorSeed = cloneBytes(p.SecondFactorSeed)
	c.RecoveryCodes = cloneBytes(p.RecoveryCodes)
	if p.SecondFactorConfirmedAt != nil {
		t := *p.SecondFactorConfirmedAt
		c.SecondFactorConfirmedAt = &t
	}
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
