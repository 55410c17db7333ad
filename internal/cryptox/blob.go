package cryptox

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
)

const (
	// BlobVersion is the only envelope format version readers accept.
	BlobVersion = 1

	// NonceSize is the GCM nonce length in bytes (96 bits).
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes (128 bits).
	TagSize = 16
)

// EncryptedBlob is the at-rest representation of a ciphertext. Values are
// immutable once produced by Encrypt; re-encryption yields a new blob.
type EncryptedBlob struct {
	Version    int
	IV         []byte
	Ciphertext []byte
	Tag        []byte
}

// wireBlob is the storage form: exactly four fields, binary values base64.
// Pointers let DecodeBlob tell a missing field from an empty one.
type wireBlob struct {
	Version    *int    `json:"version"`
	IV         *string `json:"iv"`
	Ciphertext *string `json:"ciphertext"`
	Tag        *string `json:"tag"`
}

// EncodeBlob serializes b into its storage string.
func EncodeBlob(b *EncryptedBlob) (string, error) {
	if b == nil {
		return "", fmt.Errorf("encode blob: %w", common.ErrMalformedEnvelope)
	}

	iv := base64.StdEncoding.EncodeToString(b.IV)
	ct := base64.StdEncoding.EncodeToString(b.Ciphertext)
	tag := base64.StdEncoding.EncodeToString(b.Tag)
	version := b.Version

	out, err := json.Marshal(wireBlob{Version: &version, IV: &iv, Ciphertext: &ct, Tag: &tag})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeBlob parses a storage string strictly. Unknown fields, missing
// fields, an unsupported version, bad base64 or wrong nonce/tag lengths all
// yield ErrMalformedEnvelope.
func DecodeBlob(raw string) (*EncryptedBlob, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()

	var w wireBlob
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedEnvelope, err)
	}
	// trailing data after the object is not an envelope
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", common.ErrMalformedEnvelope)
	}
	if w.Version == nil || w.IV == nil || w.Ciphertext == nil || w.Tag == nil {
		return nil, fmt.Errorf("%w: missing field", common.ErrMalformedEnvelope)
	}
	if *w.Version != BlobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", common.ErrMalformedEnvelope, *w.Version)
	}

	iv, err := base64.StdEncoding.DecodeString(*w.IV)
	if err != nil || len(iv) != NonceSize {
		return nil, fmt.Errorf("%w: bad iv", common.ErrMalformedEnvelope)
	}
	ct, err := base64.StdEncoding.DecodeString(*w.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext", common.ErrMalformedEnvelope)
	}
	tag, err := base64.StdEncoding.DecodeString(*w.Tag)
	if err != nil || len(tag) != TagSize {
		return nil, fmt.Errorf("%w: bad tag", common.ErrMalformedEnvelope)
	}

	return &EncryptedBlob{Version: *w.Version, IV: iv, Ciphertext: ct, Tag: tag}, nil
}
