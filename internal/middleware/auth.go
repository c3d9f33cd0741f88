// Package middleware provides Gin middleware for the HTTP surface.
package middleware

import (
	"net/http"
	"strings"

	"carenotes-go/internal/model"
	"carenotes-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware verifies the Bearer token and stores the caller
// profile in the Gin context. Account records live in the surrounding
// system, so the claims are the whole identity.
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "data": nil, "message": "missing authorization header"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "data": nil, "message": "invalid authorization header format"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "data": nil, "message": "invalid or expired token"})
			return
		}

		c.Set("caller", &model.CallerProfile{
			UserID:       claims.UserID,
			Name:         claims.Name,
			Role:         claims.Role,
			FacilityID:   claims.FacilityID,
			FacilityName: claims.FacilityName,
		})
		c.Next()
	}
}
