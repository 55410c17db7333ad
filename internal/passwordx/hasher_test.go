package passwordx

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultcore/internal/permits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
)

func newHasher() *Hasher {
	return NewHasher(permits.New(2))
}

func TestHash_NonDeterministicButVerifies(t *testing.T) {
	h := newHasher()
	ctx := context.Background()
	pw := []byte("correct horse battery staple")

	h1, err := h.Hash(ctx, pw)
	require.NoError(t, err)
	h2, err := h.Hash(ctx, pw)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.True(t, h.Verify(ctx, pw, h1))
	assert.True(t, h.Verify(ctx, pw, h2))
}

func TestHash_Format(t *testing.T) {
	h := newHasher()
	encoded, err := h.Hash(context.Background(), []byte("pw"))
	require.NoError(t, err)

	parts := strings.Split(encoded, "$")
	require.Len(t, parts, 6)
	assert.Equal(t, "argon2id", parts[1])
	assert.Equal(t, fmt.Sprintf("v=%d", argon2.Version), parts[2])
	assert.Equal(t, "m=65536,t=3,p=2", parts[3])
	assert.False(t, h.NeedsRehash(encoded))
}

func TestVerify_WrongPassword(t *testing.T) {
	h := newHasher()
	ctx := context.Background()
	encoded, err := h.Hash(ctx, []byte("right"))
	require.NoError(t, err)

	assert.False(t, h.Verify(ctx, []byte("wrong"), encoded))
	assert.False(t, h.Verify(ctx, []byte(""), encoded))
}

func TestVerify_MalformedNeverPanics(t *testing.T) {
	h := newHasher()
	ctx := context.Background()
	good, err := h.Hash(ctx, []byte("pw"))
	require.NoError(t, err)
	parts := strings.Split(good, "$")

	tests := []struct {
		name    string
		encoded string
	}{
		{name: "empty", encoded: ""},
		{name: "garbage", encoded: "not a hash"},
		{name: "bcrypt", encoded: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"},
		{name: "argon2i", encoded: strings.Join([]string{"", "argon2i", parts[2], parts[3], parts[4], parts[5]}, "$")},
		{name: "wrong version", encoded: strings.Join([]string{"", "argon2id", "v=16", parts[3], parts[4], parts[5]}, "$")},
		{name: "bad params", encoded: strings.Join([]string{"", "argon2id", parts[2], "m=x,t=3,p=2", parts[4], parts[5]}, "$")},
		{name: "bad salt", encoded: strings.Join([]string{"", "argon2id", parts[2], parts[3], "***", parts[5]}, "$")},
		{name: "empty hash", encoded: strings.Join([]string{"", "argon2id", parts[2], parts[3], parts[4], ""}, "$")},
		{name: "extra segment", encoded: good + "$extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, h.Verify(ctx, []byte("pw"), tt.encoded))
			})
			assert.False(t, h.NeedsRehash(tt.encoded))
		})
	}
}

func TestVerify_RejectsDowngradedParams(t *testing.T) {
	h := newHasher()
	salt := []byte("0123456789abcdef")
	weak := argon2.IDKey([]byte("pw"), salt, 1, 1024, 1, 32)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=1024,t=1,p=1$%s$%s",
		argon2.Version, b64.EncodeToString(salt), b64.EncodeToString(weak))

	assert.False(t, h.Verify(context.Background(), []byte("pw"), encoded))
	assert.True(t, h.NeedsRehash(encoded))
}

func TestVerify_RejectsShortSaltOrHash(t *testing.T) {
	h := newHasher()
	pw := []byte("pw")

	tests := []struct {
		name   string
		salt   []byte
		keyLen uint32
	}{
		{name: "4 byte hash", salt: []byte("0123456789abcdef"), keyLen: 4},
		{name: "16 byte hash", salt: []byte("0123456789abcdef"), keyLen: 16},
		{name: "8 byte salt", salt: []byte("01234567"), keyLen: hashLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := argon2.IDKey(pw, tt.salt, iterations, memoryKiB, threads, tt.keyLen)
			encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
				argon2.Version, memoryKiB, iterations, threads,
				b64.EncodeToString(tt.salt), b64.EncodeToString(key))

			assert.False(t, h.Verify(context.Background(), pw, encoded))
		})
	}
}

func TestVerify_StrongerParamsAccepted(t *testing.T) {
	h := newHasher()
	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte("pw"), salt, 4, memoryKiB, 2, 32)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=4,p=2$%s$%s",
		argon2.Version, memoryKiB, b64.EncodeToString(salt), b64.EncodeToString(key))

	assert.True(t, h.Verify(context.Background(), []byte("pw"), encoded))
	assert.True(t, h.NeedsRehash(encoded))
}

func TestVerify_CanceledContext(t *testing.T) {
	h := NewHasher(permits.New(1))
	encoded, err := h.Hash(context.Background(), []byte("pw"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Acquire on a canceled ctx may still win a free permit, so hold the only one.
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = h.pool.Do(context.Background(), func() {
			close(started)
			<-hold
		})
	}()
	<-started
	defer close(hold)

	assert.False(t, h.Verify(ctx, []byte("pw"), encoded))

	_, err = h.Hash(ctx, []byte("pw"))
	assert.ErrorIs(t, err, context.Canceled)
}
