package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateAndValidateAccessToken(t *testing.T) {
	m := NewJWTManager("test-secret", 15*time.Minute, 7*24*time.Hour)

	token, err := m.GenerateAccessToken(OperatorClaims{Operator: "ginie"})
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ginie", claims.Operator)
}

func TestJWTManager_RejectsTamperedToken(t *testing.T) {
	m := NewJWTManager("test-secret", 15*time.Minute, 7*24*time.Hour)
	token, err := m.GenerateAccessToken(OperatorClaims{Operator: "ginie"})
	require.NoError(t, err)

	other := NewJWTManager("other-secret", 15*time.Minute, 7*24*time.Hour)
	_, err = other.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestJWTManager_GenerateTokenPair(t *testing.T) {
	m := NewJWTManager("test-secret", 15*time.Minute, 7*24*time.Hour)
	pair, err := m.GenerateTokenPair(OperatorClaims{Operator: "ginie"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
}

func TestPasswordManager_HashAndVerifyRoundTrips(t *testing.T) {
	pm := NewPasswordManager(bcryptTestCost, MinPasswordLength)
	hash, err := pm.HashPassword("Str0ng!Pass")
	require.NoError(t, err)

	assert.True(t, pm.VerifyPassword("Str0ng!Pass", hash))
	assert.False(t, pm.VerifyPassword("wrong", hash))
}

func TestPasswordManager_ValidatePasswordStrength_RejectsWeak(t *testing.T) {
	pm := NewPasswordManager(bcryptTestCost, MinPasswordLength)
	assert.Error(t, pm.ValidatePasswordStrength("allsamecase"))
	assert.NoError(t, pm.ValidatePasswordStrength("Str0ng!Pass"))
}

const bcryptTestCost = 4
