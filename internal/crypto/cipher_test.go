package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCipher_RejectsShortSecret(t *testing.T) {
	_, err := NewCipher("too-short")
	assert.Error(t, err)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("a-sufficiently-long-test-secret")
	require.NoError(t, err)

	blob, err := c.Encrypt([]byte("refresh-token-value"))
	require.NoError(t, err)
	assert.NotContains(t, blob, "refresh-token-value")

	plain, err := c.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-value", string(plain))
}

func TestCipher_NonceVariesPerEncryption(t *testing.T) {
	c, err := NewCipher("a-sufficiently-long-test-secret")
	require.NoError(t, err)

	first, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)
	second, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipher_DecryptRejectsTampering(t *testing.T) {
	c, err := NewCipher("a-sufficiently-long-test-secret")
	require.NoError(t, err)

	blob, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	flipped := byte('A')
	if blob[0] == flipped {
		flipped = 'B'
	}
	_, err = c.Decrypt(string(flipped) + blob[1:])
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, err = c.Decrypt("not base64 at all!!!")
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, err = c.Decrypt("")
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestCipher_WrongKeyFailsToDecrypt(t *testing.T) {
	one, err := NewCipher("a-sufficiently-long-test-secret")
	require.NoError(t, err)
	other, err := NewCipher("a-different-long-test-secret-key")
	require.NoError(t, err)

	blob, err := one.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}
