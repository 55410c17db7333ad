package models

import "time"

// CredentialState is the lifecycle state of a credential record.
type CredentialState string

const (
	// StateActive is the normal state.
	StateActive CredentialState = "active"
	// StateRotationInProgress is held while a password change is computed.
	// It is never persisted.
	StateRotationInProgress CredentialState = "rotation_in_progress"
	// StateReset follows an administrative reset: the DEK was replaced and
	// ciphertext under the previous DEK is orphaned.
	StateReset CredentialState = "reset"
)

var transitions = map[CredentialState][]CredentialState{
	StateActive:             {StateRotationInProgress, StateReset},
	StateRotationInProgress: {StateActive},
	StateReset:              {StateActive, StateReset},
}

// CanTransition reports whether moving from s to next is allowed.
func (s CredentialState) CanTransition(next CredentialState) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known state.
func (s CredentialState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CredentialRecord is the stored credential set of one user account.
// PasswordHash, PersonalSalt and WrappedDEK are opaque strings that always
// change together. MFASecret, when present, is an envelope under the
// system key.
type CredentialRecord struct {
	ID            string
	Username      string
	PasswordHash  string
	PersonalSalt  string
	WrappedDEK    string
	MFASecret     *string
	State         CredentialState
	DEKGeneration int64
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
