package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	m := NewJWTManager("secret", 1)

	tok, err := m.GenerateToken(42, "Alice", "nurse", "fac-1", "Sunrise Manor")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "nurse", claims.Role)
	assert.Equal(t, "fac-1", claims.FacilityID)
	assert.Equal(t, "Sunrise Manor", claims.FacilityName)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	tok, err := NewJWTManager("secret-a", 1).GenerateToken(1, "n", "r", "f", "fn")
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b", 1).VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyTokenGarbage(t *testing.T) {
	_, err := NewJWTManager("secret", 1).VerifyToken("not-a-token")
	assert.Error(t, err)
}

func TestGenerateRandomStringLength(t *testing.T) {
	s := GenerateRandomString(16)
	assert.Len(t, s, 32)
	assert.NotEqual(t, s, GenerateRandomString(16))
}
