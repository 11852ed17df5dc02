package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_CheckPassword(t *testing.T) {
	t.Parallel()

	h, err := HashPassword("pw123")
	require.NoError(t, err)
	assert.NotEqual(t, "pw123", h)
	assert.True(t, CheckPassword(h, "pw123"))
	assert.False(t, CheckPassword(h, "pw1234"))
	assert.False(t, CheckPassword("not-a-hash", "pw123"))
}

func TestRandomPasswordHash(t *testing.T) {
	t.Parallel()

	a, err := RandomPasswordHash()
	require.NoError(t, err)
	b, err := RandomPasswordHash()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.False(t, CheckPassword(a, ""))
}

func TestRandomHex(t *testing.T) {
	t.Parallel()

	s, err := RandomHex(3)
	require.NoError(t, err)
	assert.Len(t, s, 6)
}
