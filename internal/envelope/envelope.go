// Package envelope implements the per-user key hierarchy.
//
// A user's password and personal salt derive a master key. The master key
// only wraps a random data encryption key (DEK); the DEK protects the user's
// data. The password hash stored for authentication is computed
// independently and never feeds key derivation.
//
// There is no way to recover a DEK without the password. ResetPassword
// therefore issues a new DEK, and anything the old one protected becomes
// unreadable.
package envelope

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/cryptox"
	"github.com/dmitrijs2005/vaultcore/internal/passwordx"
	"github.com/dmitrijs2005/vaultcore/internal/permits"
)

// PersonalSaltSize is the length of the per-user master key salt.
const PersonalSaltSize = 32

// dekAAD binds wrapped DEKs to their purpose, so a blob produced elsewhere
// under the same key cannot be passed off as a DEK.
var dekAAD = []byte("vaultcore/dek/v1")

// Credentials are the three values persisted per user. They always change
// together.
type Credentials struct {
	PasswordHash string
	PersonalSalt string
	WrappedDEK   string
}

// Envelope creates, unwraps and rotates user credentials.
type Envelope struct {
	hasher *passwordx.Hasher
	pool   *permits.Pool
	params cryptox.KDFParams
}

// Option configures an Envelope.
type Option func(*Envelope)

// WithKDFParams overrides the master key derivation cost.
func WithKDFParams(p cryptox.KDFParams) Option {
	return func(e *Envelope) { e.params = p }
}

// New returns an Envelope. Master key derivations wait on pool, the same
// pool the hasher should be using.
func New(hasher *passwordx.Hasher, pool *permits.Pool, opts ...Option) *Envelope {
	e := &Envelope{hasher: hasher, pool: pool, params: cryptox.DefaultKDFParams}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CreateCredentials hashes password for authentication, generates a personal
// salt and a fresh DEK, and wraps the DEK under the master key derived from
// (password, salt).
func (e *Envelope) CreateCredentials(ctx context.Context, password []byte) (*Credentials, error) {
	dek := common.GenerateRandByteArray(common.KeySize)
	defer common.WipeByteArray(dek)

	return e.issue(ctx, password, dek)
}

// UnwrapDEK re-derives the master key and opens wrappedDEK. A wrong
// password and a malformed salt or blob all return ErrAuthenticationFailed.
func (e *Envelope) UnwrapDEK(ctx context.Context, password []byte, personalSalt, wrappedDEK string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(personalSalt)
	if err != nil || len(salt) == 0 {
		return nil, common.ErrAuthenticationFailed
	}
	blob, err := cryptox.DecodeBlob(wrappedDEK)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}

	masterKey, err := e.deriveMasterKey(ctx, password, salt)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(masterKey)

	dek, err := cryptox.DecryptWithAAD(blob, masterKey, dekAAD)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}
	if len(dek) != common.KeySize {
		common.WipeByteArray(dek)
		return nil, common.ErrAuthenticationFailed
	}
	return dek, nil
}

// RotatePassword re-wraps the existing DEK under a master key derived from
// newPassword and a new salt, and issues a new password hash. Data encrypted
// under the DEK stays readable.
func (e *Envelope) RotatePassword(ctx context.Context, oldPassword, newPassword []byte, personalSalt, wrappedDEK string) (*Credentials, error) {
	dek, err := e.UnwrapDEK(ctx, oldPassword, personalSalt, wrappedDEK)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(dek)

	return e.issue(ctx, newPassword, dek)
}

// ResetPassword issues credentials for newPassword around a newly generated
// DEK. It does not try to recover the old DEK; ciphertext under it is
// orphaned.
func (e *Envelope) ResetPassword(ctx context.Context, newPassword []byte) (*Credentials, error) {
	return e.CreateCredentials(ctx, newPassword)
}

func (e *Envelope) issue(ctx context.Context, password, dek []byte) (*Credentials, error) {
	hash, err := e.hasher.Hash(ctx, password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	salt := common.GenerateRandByteArray(PersonalSaltSize)
	masterKey, err := e.deriveMasterKey(ctx, password, salt)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(masterKey)

	blob, err := cryptox.EncryptWithAAD(dek, masterKey, dekAAD)
	if err != nil {
		return nil, fmt.Errorf("wrap dek: %w", err)
	}
	wrapped, err := cryptox.EncodeBlob(blob)
	if err != nil {
		return nil, fmt.Errorf("encode wrapped dek: %w", err)
	}

	return &Credentials{
		PasswordHash: hash,
		PersonalSalt: base64.StdEncoding.EncodeToString(salt),
		WrappedDEK:   wrapped,
	}, nil
}

func (e *Envelope) deriveMasterKey(ctx context.Context, password, salt []byte) ([]byte, error) {
	var (
		key    []byte
		kdfErr error
	)
	if err := e.pool.Do(ctx, func() {
		key, kdfErr = cryptox.DeriveKey(password, salt, e.params)
	}); err != nil {
		return nil, fmt.Errorf("waiting for kdf permit: %w", err)
	}
	if kdfErr != nil {
		return nil, fmt.Errorf("derive master key: %w", kdfErr)
	}
	return key, nil
}
