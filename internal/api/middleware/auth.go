package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/config"
	jwtutil "github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/pkg/jwt"
	"github.com/gin-gonic/gin"
)

// Auth verifies the caller before any queue or session operation. Users
// present a Bearer JWT; trusted internal services may instead present the
// shared service secret together with the identity they act for.
func Auth(cfg *config.Config) gin.HandlerFunc {
	jwtManager := jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)

	return func(c *gin.Context) {
		if cfg.ServiceSecret != "" {
			secret := c.GetHeader("X-Service-Secret")
			if secret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(cfg.ServiceSecret)) == 1 {
				c.Set("userId", c.GetHeader("X-User-Id"))
				c.Set("username", c.GetHeader("X-User-Name"))
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			// Browsers cannot set headers on websocket upgrades; accept the
			// token as a query parameter there.
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}

		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format",
			})
			c.Abort()
			return
		}

		claims, err := jwtManager.Verify(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("userId", claims.UserID)
		c.Set("username", claims.Username)

		c.Next()
	}
}
