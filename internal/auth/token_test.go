package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	a := NewTokenAuth("sekrit")

	userID, err := a.Verify(signToken(t, "sekrit", "alice", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	a := NewTokenAuth("sekrit")

	_, err := a.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Wrong signing key.
	_, err = a.Verify(signToken(t, "other", "alice", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Expired.
	_, err = a.Verify(signToken(t, "sekrit", "alice", time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresSubject(t *testing.T) {
	a := NewTokenAuth("sekrit")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("sekrit"))
	require.NoError(t, err)

	_, err = a.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
