package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func TestSignAndParse_RoundTrip(t *testing.T) {
	priv := newKey(t)

	tok, err := SignRS256(priv, "ops@example.com", time.Minute)
	require.NoError(t, err)

	claims, err := ParseAndValidateRS256(tok, &priv.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Actor())
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestParse_RejectsMissingSubject(t *testing.T) {
	priv := newKey(t)

	tok, err := SignRS256(priv, "", time.Minute)
	require.NoError(t, err)

	_, err = ParseAndValidateRS256(tok, &priv.PublicKey)
	assert.Error(t, err)
}

func TestParse_RejectsWrongKeyAndHS256(t *testing.T) {
	priv := newKey(t)
	other := newKey(t)

	tok, err := SignRS256(priv, "ops", time.Minute)
	require.NoError(t, err)
	_, err = ParseAndValidateRS256(tok, &other.PublicKey)
	assert.Error(t, err)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ParseAndValidateRS256(hs, &priv.PublicKey)
	assert.Error(t, err)
}

func TestParse_RequiresExpiry(t *testing.T) {
	priv := newKey(t)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "ops"}).SignedString(priv)
	require.NoError(t, err)

	_, err = ParseAndValidateRS256(tok, &priv.PublicKey)
	assert.Error(t, err)
}

func TestParseRSAPublicKeyPEM_AcceptsEscapedNewlines(t *testing.T) {
	priv := newKey(t)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	escaped := strings.ReplaceAll(pemText, "\n", `\n`)
	pub, err := ParseRSAPublicKeyPEM(escaped)
	require.NoError(t, err)
	assert.Equal(t, 0, pub.N.Cmp(priv.PublicKey.N))

	_, err = ParseRSAPublicKeyPEM("  ")
	assert.Error(t, err)
}
