package models

// FlowState is the position of a login attempt in the authentication state machine
type FlowState string

const (
	FlowAwaitingCredentials  FlowState = "awaiting_credentials"
	FlowAwaitingSecondFactor FlowState = "awaiting_second_factor"
	FlowAuthenticated        FlowState = "authenticated"
	FlowRejected             FlowState = "rejected"
)

// IsTerminal reports whether no further input can change the outcome
func (s FlowState) IsTerminal() bool {
	return s == FlowAuthenticated || s == FlowRejected
}
