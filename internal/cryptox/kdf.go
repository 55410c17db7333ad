package cryptox

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"golang.org/x/crypto/argon2"
)

// KDFParams are the argon2id cost parameters for key derivation.
// Memory is in KiB.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// DefaultKDFParams are used for the system key and user master keys.
var DefaultKDFParams = KDFParams{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  common.KeySize,
}

var errEmptySalt = errors.New("kdf: empty salt")

// DeriveKey stretches secret with salt into a 256-bit key. The result is
// deterministic for identical inputs and parameters.
func DeriveKey(secret, salt []byte, p KDFParams) ([]byte, error) {
	if p.KeyLen != common.KeySize {
		return nil, fmt.Errorf("%w: kdf key length %d", common.ErrInvalidKeyLength, p.KeyLen)
	}
	if len(salt) == 0 {
		return nil, errEmptySalt
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("kdf: invalid params %+v", p)
	}
	return argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, p.KeyLen), nil
}
