// Package legacy lets stored values migrate from plaintext to encrypted
// envelopes one row at a time.
//
// A stored string is parsed strictly into one of two variants: an Envelope
// (a well-formed EncryptedBlob) or Legacy plaintext. Only the guard turns a
// parse failure into passthrough; Codec.Open treats it as an error.
package legacy

import (
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/cryptox"
)

// Kind tags a StoredValue.
type Kind int

const (
	KindLegacy Kind = iota
	KindEnvelope
)

func (k Kind) String() string {
	switch k {
	case KindEnvelope:
		return "envelope"
	default:
		return "legacy"
	}
}

// StoredValue is a parsed stored string.
type StoredValue struct {
	kind   Kind
	blob   *cryptox.EncryptedBlob
	legacy string
}

// Parse classifies raw. It never fails: anything that is not a strict
// envelope is Legacy.
func Parse(raw string) StoredValue {
	blob, err := cryptox.DecodeBlob(raw)
	if err != nil {
		return StoredValue{kind: KindLegacy, legacy: raw}
	}
	return StoredValue{kind: KindEnvelope, blob: blob}
}

// Kind returns the variant tag.
func (v StoredValue) Kind() Kind { return v.kind }

// Envelope returns the blob if v is an envelope.
func (v StoredValue) Envelope() (*cryptox.EncryptedBlob, bool) {
	return v.blob, v.kind == KindEnvelope
}

// Legacy returns the plaintext if v is legacy.
func (v StoredValue) Legacy() (string, bool) {
	return v.legacy, v.kind == KindLegacy
}

// IsEnvelopeFormat reports whether raw is a well-formed envelope.
func IsEnvelopeFormat(raw string) bool {
	return Parse(raw).Kind() == KindEnvelope
}

// Codec seals, opens and migrates stored strings, binding aad into every
// envelope it produces or opens.
type Codec struct {
	aad []byte
}

// NewCodec returns a Codec for one purpose, e.g. "vaultcore/shared/mfa".
func NewCodec(aad string) Codec {
	return Codec{aad: []byte(aad)}
}

// Seal encrypts plaintext under key into an envelope string.
func (c Codec) Seal(plaintext string, key []byte) (string, error) {
	blob, err := cryptox.EncryptWithAAD([]byte(plaintext), key, c.aad)
	if err != nil {
		return "", err
	}
	return cryptox.EncodeBlob(blob)
}

// Open decrypts an envelope string. A value that is not an envelope returns
// ErrMalformedEnvelope.
func (c Codec) Open(raw string, key []byte) (string, error) {
	blob, err := cryptox.DecodeBlob(raw)
	if err != nil {
		return "", err
	}
	return c.open(blob, key)
}

// DecryptOrPassthrough decrypts an envelope or returns legacy plaintext
// unchanged. Decryption failures of a real envelope are returned, never
// passed through.
func (c Codec) DecryptOrPassthrough(raw string, key []byte) (string, error) {
	v := Parse(raw)
	if blob, ok := v.Envelope(); ok {
		return c.open(blob, key)
	}
	plain, _ := v.Legacy()
	return plain, nil
}

// MigrateToEnvelope encrypts a legacy value and reports migrated=true.
// An envelope is returned as is, so applying it twice changes nothing.
func (c Codec) MigrateToEnvelope(raw string, key []byte) (out string, migrated bool, err error) {
	v := Parse(raw)
	if v.Kind() == KindEnvelope {
		return raw, false, nil
	}
	plain, _ := v.Legacy()
	sealed, err := c.Seal(plain, key)
	if err != nil {
		return "", false, fmt.Errorf("migrate to envelope: %w", err)
	}
	return sealed, true, nil
}

func (c Codec) open(blob *cryptox.EncryptedBlob, key []byte) (string, error) {
	plain, err := cryptox.DecryptWithAAD(blob, key, c.aad)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

var plain = Codec{}

// DecryptOrPassthrough is Codec.DecryptOrPassthrough without associated data.
func DecryptOrPassthrough(raw string, key []byte) (string, error) {
	return plain.DecryptOrPassthrough(raw, key)
}

// MigrateToEnvelope is Codec.MigrateToEnvelope without associated data.
func MigrateToEnvelope(raw string, key []byte) (string, bool, error) {
	return plain.MigrateToEnvelope(raw, key)
}
