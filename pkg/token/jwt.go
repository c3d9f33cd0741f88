// Package token verifies the JSON Web Tokens issued by the surrounding
// account system and carries the caller-identity claims this service
// consumes.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager signs and verifies tokens.
type JWTManager struct {
	secretKey      []byte
	accessTokenDur time.Duration
}

// CallerClaims are the identity claims the account system puts in each
// token: who is asking, in what role, at which facility.
type CallerClaims struct {
	UserID       uint   `json:"userId"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	FacilityID   string `json:"facilityId"`
	FacilityName string `json:"facilityName"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a JWTManager with the shared secret.
func NewJWTManager(secret string, accessTokenExpireHours int) *JWTManager {
	return &JWTManager{
		secretKey:      []byte(secret),
		accessTokenDur: time.Hour * time.Duration(accessTokenExpireHours),
	}
}

// GenerateToken issues a signed token for the given identity.
func (m *JWTManager) GenerateToken(userID uint, name, role, facilityID, facilityName string) (string, error) {
	claims := CallerClaims{
		UserID:       userID,
		Name:         name,
		Role:         role,
		FacilityID:   facilityID,
		FacilityName: facilityName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.accessTokenDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken parses and validates a token string, returning its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*CallerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*CallerClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
