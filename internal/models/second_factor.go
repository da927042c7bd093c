package models

import (
	"time"
)

// RecoveryCodeCount is the number of codes in a freshly generated set
const RecoveryCodeCount = 8

// RecoveryCodeLength is the length of every recovery code
const RecoveryCodeLength = 8

// RecoveryCodeSet is the list of unused single-use recovery codes
type RecoveryCodeSet struct {
	Codes []string `json:"codes"`
}

// Remaining returns the number of unused codes
func (s RecoveryCodeSet) Remaining() int {
	return len(s.Codes)
}

// Without returns a copy of s with the code at index i removed
func (s RecoveryCodeSet) Without(i int) RecoveryCodeSet {
	codes := make([]string, 0, len(s.Codes)-1)
	codes = append(codes, s.Codes[:i]...)
	codes = append(codes, s.Codes[i+1:]...)
	return RecoveryCodeSet{Codes: codes}
}

// SecondFactorState is the complete set of second-factor fields written to the identity store
// in one update. It can only be built with the constructors below.
type SecondFactorState struct {
	enabled       bool
	seed          []byte
	recoveryCodes []byte
	confirmedAt   *time.Time
}

// PendingSecondFactor stores a freshly generated, unconfirmed seed
func PendingSecondFactor(sealedSeed []byte) SecondFactorState {
	return SecondFactorState{seed: sealedSeed}
}

// EnabledSecondFactor stores a confirmed seed with its sealed recovery codes
func EnabledSecondFactor(sealedSeed, sealedCodes []byte, confirmedAt time.Time) SecondFactorState {
	t := confirmedAt
	return SecondFactorState{
		enabled:       true,
		seed:          sealedSeed,
		recoveryCodes: sealedCodes,
		confirmedAt:   &t,
	}
}

// DisabledSecondFactor clears every second-factor field
func DisabledSecondFactor() SecondFactorState {
	return SecondFactorState{}
}

// WithRecoveryCodes returns a copy of s holding a different sealed code set
func (s SecondFactorState) WithRecoveryCodes(sealedCodes []byte) SecondFactorState {
	s.recoveryCodes = sealedCodes
	return s
}

func (s SecondFactorState) Enabled() bool { return s.enabled }
func (s SecondFactorState) Seed() []byte { return s.seed }
func (s SecondFactorState) RecoveryCodes() []byte { return s.recoveryCodes }
func (s SecondFactorState) ConfirmedAt() *time.Time { return s.confirmedAt }

// SecondFactorStatus is the externally visible summary of a principal's second factor
type SecondFactorStatus struct {
	Enabled                bool       `json:"enabled"`
	ConfirmedAt            *time.Time `json:"confirmed_at"`
	Pending                bool       `json:"pending"`
	RecoveryCodesRemaining int        `json:"recovery_codes_remaining"`
}
