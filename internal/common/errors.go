// Package common defines shared constants and sentinel errors used across
// the vault core and its storage/service layers. Callers should use errors.Is
// to match these values.
package common

import "errors"

// Cryptographic errors.
var (
	// ErrInvalidKeyLength is returned before any cryptographic operation runs
	// when a key is not exactly 256 bits.
	ErrInvalidKeyLength = errors.New("invalid key length")

	// ErrAuthenticationFailed covers a wrong password, a wrong key and a
	// failed tag check alike.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrMissingSystemSecret means the operator pepper is not configured.
	ErrMissingSystemSecret = errors.New("system secret is not configured")

	// ErrMalformedEnvelope is returned when a value expected to be an
	// encrypted envelope does not parse as one.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal        = errors.New("internal error")
	ErrorUnauthorized    = errors.New("unauthorized")
	ErrorInvalidArgument = errors.New("invalid argument")
	ErrVersionConflict   = errors.New("version conflict")

	// Credential lifecycle errors.
	ErrRotationInProgress      = errors.New("credential rotation already in progress")
	ErrInvalidStateTransition  = errors.New("invalid credential state transition")
	ErrPartialCredentialUpdate = errors.New("credential fields must change together")
)
