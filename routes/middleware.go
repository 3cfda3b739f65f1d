package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gainable/models"
	"gainable/services"
)

const claimsKey = "claims"

func authMiddleware(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := auth.ParseToken(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func requireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claimsFrom(c).Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func requireExpert() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claimsFrom(c).ExpertID == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "expert account required"})
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *services.Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*services.Claims); ok {
			return claims
		}
	}
	return &services.Claims{}
}
