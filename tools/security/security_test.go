package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIssuerRoundTrip(t *testing.T) {
	iss := NewIssuer(DefaultOptions([]byte("test-secret")))
	tok, err := iss.Issue("user-1")
	require.NoError(t, err)

	sub, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	tok, _, err := Generate(DefaultOptions([]byte("a")), "u")
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("b")), tok)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.TTL = time.Nanosecond
	tok, _, err := Generate(opts, "u")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = Verify(opts, tok)
	assert.Error(t, err)
}

func TestGenerateNeedsSecret(t *testing.T) {
	_, _, err := Generate(Options{}, "u")
	assert.Error(t, err)
}

func TestUnsupportedAlg(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.Alg = "RS256"
	_, _, err := Generate(opts, "u")
	assert.Error(t, err)
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("p1")
	require.NoError(t, err)
	assert.True(t, h.Verify(hash, "p1"))
	assert.False(t, h.Verify(hash, "p2"))
	assert.False(t, h.Verify("not-a-hash", "p1"))

	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).Cost)
}
