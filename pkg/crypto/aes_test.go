package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

func TestAESRoundTrip(t *testing.T) {
	key := loadFixture(t)
	pub := key.PublicOnly()

	for _, message := range [][]byte{
		[]byte("hi there"),
		{},
		[]byte("0123456789ABCDEF"),
		make([]byte, 4096),
	} {
		env, err := pub.AESEncapsulate(message)
		require.NoError(t, err)
		assert.True(t, env.Complete())
		assert.NotContains(t, env.Data+env.Key+env.IV, "=")

		out, err := key.AESDecapsulate(env)
		require.NoError(t, err)
		assert.Equal(t, message, out)
	}
}

func TestAESPrivateEncapsulate(t *testing.T) {
	key := loadFixture(t)
	env, err := key.AESEncapsulate([]byte("hi there"))
	require.NoError(t, err)

	out, err := key.AESDecapsulate(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi there"), out)
}

func TestAESDecapsulateFailures(t *testing.T) {
	key := loadFixture(t)
	env, err := key.AESEncapsulate([]byte("hi there"))
	require.NoError(t, err)

	t.Run("public key only", func(t *testing.T) {
		_, err := key.PublicOnly().AESDecapsulate(env)
		assert.ErrorIs(t, err, zerrors.ErrNoKeyMaterial)
	})

	t.Run("wrong keypair", func(t *testing.T) {
		_, err := generatedKey(t).AESDecapsulate(env)
		assert.ErrorIs(t, err, zerrors.ErrDecryptionFailed)
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := key.AESDecapsulate(&Envelope{Data: env.Data, Key: env.Key})
		assert.ErrorIs(t, err, zerrors.ErrInvalidEnvelope)

		_, err = key.AESDecapsulate(nil)
		assert.ErrorIs(t, err, zerrors.ErrInvalidEnvelope)
	})

	t.Run("corrupt data", func(t *testing.T) {
		bad := *env
		bad.Data = "!!!"
		_, err := key.AESDecapsulate(&bad)
		assert.ErrorIs(t, err, zerrors.ErrDecryptionFailed)

		bad.Data = Base64URLEncode([]byte("short"))
		_, err = key.AESDecapsulate(&bad)
		assert.ErrorIs(t, err, zerrors.ErrDecryptionFailed)
	})
}

func TestPKCS7PadUnpad(t *testing.T) {
	data := map[string]string{
		"message":          "message\x09\x09\x09\x09\x09\x09\x09\x09\x09",
		"0123456789ABCDE":  "0123456789ABCDE\x01",
		"0123456789ABCDEF": "0123456789ABCDEF" + "\x10\x10\x10\x10\x10\x10\x10\x10\x10\x10\x10\x10\x10\x10\x10\x10",
	}
	for in, want := range data {
		padded := PKCS7Pad([]byte(in), 16)
		assert.Equal(t, []byte(want), padded)

		out, err := PKCS7Unpad(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, []byte(in), out)
	}

	_, err := PKCS7Unpad([]byte("0123456789ABCDE\x00"), 16)
	assert.Error(t, err)
	_, err = PKCS7Unpad([]byte("0123456789ABC\x01\x03\x03"), 16)
	assert.Error(t, err)
	_, err = PKCS7Unpad([]byte("short"), 16)
	assert.Error(t, err)
}
