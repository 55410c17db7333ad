package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
)

// Encrypt seals plaintext under a 256-bit key with AES-GCM.
//
// A fresh random 96-bit nonce is drawn from crypto/rand on every call, so
// concurrent calls under the same key never share a nonce.
//
// Example:
//
//	key := common.GenerateRandByteArray(common.KeySize)
//	blob, err := cryptox.Encrypt([]byte("s3cr3t-ssh-pass"), key)
//	if err != nil {
//	    return err
//	}
//	stored, err := cryptox.EncodeBlob(blob)
func Encrypt(plaintext, key []byte) (*EncryptedBlob, error) {
	return EncryptWithAAD(plaintext, key, nil)
}

// EncryptWithAAD is Encrypt with associated data bound into the tag.
// The same aad must be supplied to DecryptWithAAD.
func EncryptWithAAD(plaintext, key, aad []byte) (*EncryptedBlob, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	sealed := aesgcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize

	return &EncryptedBlob{
		Version:    BlobVersion,
		IV:         nonce,
		Ciphertext: sealed[:split:split],
		Tag:        sealed[split:],
	}, nil
}

// Decrypt opens a blob produced by Encrypt. Any tag mismatch, wrong key or
// structurally invalid blob returns ErrAuthenticationFailed and no plaintext.
func Decrypt(blob *EncryptedBlob, key []byte) ([]byte, error) {
	return DecryptWithAAD(blob, key, nil)
}

// DecryptWithAAD opens a blob produced by EncryptWithAAD with the same aad.
func DecryptWithAAD(blob *EncryptedBlob, key, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if blob == nil || blob.Version != BlobVersion || len(blob.IV) != NonceSize || len(blob.Tag) != TagSize {
		return nil, common.ErrAuthenticationFailed
	}

	sealed := make([]byte, 0, len(blob.Ciphertext)+TagSize)
	sealed = append(sealed, blob.Ciphertext...)
	sealed = append(sealed, blob.Tag...)

	plaintext, err := aesgcm.Open(nil, blob.IV, sealed, aad)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != common.KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", common.ErrInvalidKeyLength, common.KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
