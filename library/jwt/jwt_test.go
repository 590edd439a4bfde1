package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSignAndParse verifies a round trip through Sign and Parse.
func TestSignAndParse(t *testing.T) {
	j, err := New([]byte("test-secret"))
	require.NoError(t, err)

	token, err := j.Sign("64b1f0a2c3d4e5f60718293a", time.Hour)
	require.NoError(t, err)

	claims, err := j.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "64b1f0a2c3d4e5f60718293a", claims.AccountID)
}

// TestParseRejectsExpired verifies that expired tokens are rejected.
func TestParseRejectsExpired(t *testing.T) {
	j, err := New([]byte("test-secret"))
	require.NoError(t, err)

	token, err := j.Sign("64b1f0a2c3d4e5f60718293a", -time.Minute)
	require.NoError(t, err)

	_, err = j.Parse(token)
	require.Error(t, err)
}

// TestParseRejectsWrongSecret verifies that tokens signed elsewhere fail.
func TestParseRejectsWrongSecret(t *testing.T) {
	signer, err := New([]byte("secret-a"))
	require.NoError(t, err)
	verifier, err := New([]byte("secret-b"))
	require.NoError(t, err)

	token, err := signer.Sign("64b1f0a2c3d4e5f60718293a", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Parse(token)
	require.Error(t, err)
}

// TestNewRejectsEmptySecret verifies the constructor guards its input.
func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
