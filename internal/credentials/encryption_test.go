package credentials

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDerivationIsDeterministic(t *testing.T) {
	k1 := KeyFromPassphrase("correct horse battery staple")
	k2 := KeyFromPassphrase("correct horse battery staple")
	assert.Equal(t, k1, k2)

	k3 := KeyFromPassphrase("a different passphrase")
	assert.NotEqual(t, k1, k3)
}

func TestKeyIsURLSafeBase64Of32Bytes(t *testing.T) {
	key := KeyFromPassphrase("pass")
	// 32 bytes base64-encode to 44 characters including padding.
	assert.Len(t, key, 44)

	signing, encryption, err := splitKey(key)
	require.NoError(t, err)
	assert.Len(t, signing, 16)
	assert.Len(t, encryption, 16)
}

func TestEncryptDecryptIdentity(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"short", []byte("hello")},
		{"empty", []byte{}},
		{"block aligned", bytes.Repeat([]byte("x"), 32)},
		{"json document", []byte(`{"exchanges": [{"ccxt_id": "gemini", "api_key": "k", "api_secret": "s"}]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := Encrypt(tt.plaintext, "passphrase")
			require.NoError(t, err)

			plaintext, err := Decrypt(token, "passphrase")
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, plaintext)
		})
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	token, err := Encrypt([]byte("secret material"), "right")
	require.NoError(t, err)

	_, err = Decrypt(token, "wrong")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecryptMalformedToken(t *testing.T) {
	_, err := Decrypt([]byte("not base64 at all!!"), "pass")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Decrypt([]byte("YWJj"), "pass") // too short
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecryptToleratesTrailingNewline(t *testing.T) {
	token, err := Encrypt([]byte("payload"), "pass")
	require.NoError(t, err)

	plaintext, err := Decrypt(append(token, '\n'), "pass")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plaintext)
}

func TestPKCS7RoundTrip(t *testing.T) {
	for length := 0; length <= 33; length++ {
		data := bytes.Repeat([]byte("a"), length)
		padded := pkcs7Pad(data, 16)
		require.Zero(t, len(padded)%16)

		unpadded, err := pkcs7Unpad(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, data, unpadded)
	}
}
