// Package passwordx hashes and verifies authentication passwords with
// argon2id. Password hashes are unrelated to encryption keys: a leaked hash
// does not reveal a master key or DEK.
package passwordx

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/permits"
	"golang.org/x/crypto/argon2"
)

// Cost parameters are fixed at build time. Stored hashes with weaker
// parameters, a shorter salt or a shorter hash never verify.
const (
	memoryKiB  uint32 = 64 * 1024
	iterations uint32 = 3
	threads    uint8  = 2
	saltLength        = 16
	hashLength uint32 = 32
)

const algorithm = "argon2id"

var b64 = base64.RawStdEncoding

// Hasher produces PHC-formatted argon2id hashes:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
//
// Hash and Verify wait on the permit pool before running argon2.
type Hasher struct {
	pool *permits.Pool
}

// NewHasher returns a Hasher sharing pool with other expensive work.
func NewHasher(pool *permits.Pool) *Hasher {
	return &Hasher{pool: pool}
}

// Hash returns a new PHC string for password with a fresh random salt, so
// hashing the same password twice yields different strings.
func (h *Hasher) Hash(ctx context.Context, password []byte) (string, error) {
	salt := common.GenerateRandByteArray(saltLength)

	var key []byte
	if err := h.pool.Do(ctx, func() {
		key = argon2.IDKey(password, salt, iterations, memoryKiB, threads, hashLength)
	}); err != nil {
		return "", fmt.Errorf("waiting for hashing permit: %w", err)
	}

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm, argon2.Version, memoryKiB, iterations, threads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether password matches encoded. It never returns an
// error: unparsable hashes, other algorithms, downgraded parameters, short
// salts or hashes and a canceled ctx all report false.
func (h *Hasher) Verify(ctx context.Context, password []byte, encoded string) bool {
	p, err := parse(encoded)
	if err != nil {
		return false
	}
	if p.memory < memoryKiB || p.iterations < iterations || p.threads < threads {
		return false
	}
	if len(p.salt) < saltLength || uint32(len(p.hash)) < hashLength {
		return false
	}

	var candidate []byte
	if err := h.pool.Do(ctx, func() {
		candidate = argon2.IDKey(password, p.salt, p.iterations, p.memory, p.threads, uint32(len(p.hash)))
	}); err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(candidate, p.hash) == 1
}

// NeedsRehash reports whether encoded is a valid hash produced with
// parameters other than the current ones.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, err := parse(encoded)
	if err != nil {
		return false
	}
	return p.memory != memoryKiB || p.iterations != iterations || p.threads != threads ||
		len(p.salt) != saltLength || uint32(len(p.hash)) != hashLength
}

type phc struct {
	memory     uint32
	iterations uint32
	threads    uint8
	salt       []byte
	hash       []byte
}

func parse(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	// "", alg, version, params, salt, hash
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("unexpected segment count %d", len(parts))
	}
	if parts[1] != algorithm {
		return nil, fmt.Errorf("unsupported algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, err
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported version %d", version)
	}

	p := &phc{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.threads); err != nil {
		return nil, err
	}
	if fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.iterations, p.threads) != parts[3] {
		return nil, fmt.Errorf("non-canonical params %q", parts[3])
	}

	var err error
	if p.salt, err = b64.DecodeString(parts[4]); err != nil || len(p.salt) == 0 {
		return nil, fmt.Errorf("bad salt")
	}
	if p.hash, err = b64.DecodeString(parts[5]); err != nil || len(p.hash) == 0 {
		return nil, fmt.Errorf("bad hash")
	}
	return p, nil
}
