package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWipeByteArray(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	assert.Equal(t, make([]byte, 5), buf)

	// nil is a no-op
	WipeByteArray(nil)
}

func TestGenerateRandByteArray(t *testing.T) {
	a := GenerateRandByteArray(KeySize)
	b := GenerateRandByteArray(KeySize)

	require.Len(t, a, KeySize)
	require.Len(t, b, KeySize)
	assert.NotEqual(t, a, b)
}
