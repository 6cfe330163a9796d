package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IssueAndValidate(t *testing.T) {
	m := NewManager(TokenConfig{Secret: []byte("s3cret"), Audience: "authenticated"})
	player := uuid.New()

	token, err := m.Issue(player, "p@example.com")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	id, err := claims.PlayerID()
	require.NoError(t, err)
	assert.Equal(t, player, id)
	assert.Equal(t, "p@example.com", claims.Email)
}

func TestManager_RejectsWrongSecret(t *testing.T) {
	token, err := NewManager(TokenConfig{Secret: []byte("a")}).Issue(uuid.New(), "")
	require.NoError(t, err)

	_, err = NewManager(TokenConfig{Secret: []byte("b")}).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_RejectsWrongAudience(t *testing.T) {
	token, err := NewManager(TokenConfig{Secret: []byte("a"), Audience: "other"}).Issue(uuid.New(), "")
	require.NoError(t, err)

	_, err = NewManager(TokenConfig{Secret: []byte("a"), Audience: "authenticated"}).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_Expired(t *testing.T) {
	secret := []byte("a")
	claims := Claims{RegisteredClaims: gojwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	_, err = NewManager(TokenConfig{Secret: secret}).Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestClaims_PlayerIDRejectsNonUUID(t *testing.T) {
	c := &Claims{RegisteredClaims: gojwt.RegisteredClaims{Subject: "not-a-uuid"}}
	_, err := c.PlayerID()
	assert.ErrorIs(t, err, ErrInvalidToken)
}
