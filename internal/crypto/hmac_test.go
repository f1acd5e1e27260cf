package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL2HeadersAt_Deterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key",
		Secret:     base64.StdEncoding.EncodeToString([]byte("secret-bytes")),
		Passphrase: "phrase",
	}

	h1 := auth.L2HeadersAt("0xaddr", "POST", "/order", `{"x":1}`, 1700000000)
	h2 := auth.L2HeadersAt("0xaddr", "POST", "/order", `{"x":1}`, 1700000000)

	require.Equal(t, h1, h2)
	assert.Equal(t, "0xaddr", h1["POLY_ADDRESS"])
	assert.Equal(t, "api-key", h1["POLY_API_KEY"])
	assert.Equal(t, "phrase", h1["POLY_PASSPHRASE"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])

	// The signature covers method, path, and body.
	changed := auth.L2HeadersAt("0xaddr", "GET", "/order", `{"x":1}`, 1700000000)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], changed["POLY_SIGNATURE"])

	changed = auth.L2HeadersAt("0xaddr", "POST", "/order", `{"x":2}`, 1700000000)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], changed["POLY_SIGNATURE"])
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef123", Secret: "supersecretvalue"}
	s := auth.String()
	assert.NotContains(t, s, "abcdef123")
	assert.NotContains(t, s, "supersecretvalue")
	assert.Contains(t, s, "abcd****")
}

func TestEncryptDecryptKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f", "hunter2")
	require.NoError(t, err)

	key, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f", key)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}
