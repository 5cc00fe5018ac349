// auth.go provides Gin middleware for the two authentication schemes keygate
// exposes: short-lived session tokens minted by license validation (community
// endpoints), and the operator admin token (admin endpoints).
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/config"
)

// Context keys set by SessionAuthMiddleware.
const (
	// DeviceIDKey holds the device id recovered from a verified session token.
	// Handlers must read ownership identity from here, never from request input.
	DeviceIDKey = "device_id"
	// KeyHintKey holds the truncated license key hint from the token claims,
	// used only for log correlation.
	KeyHintKey = "key_hint"
)

// SessionAuthMiddleware validates the Bearer session token and stores the
// caller's device identity in the gin context. Expired tokens get a 401; the
// extension is expected to re-validate its license and retry.
func SessionAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed authorization header",
			})
			return
		}

		claims, err := auth.ValidateSessionToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session token",
			})
			return
		}

		if claims.DeviceID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session token",
			})
			return
		}

		c.Set(DeviceIDKey, claims.DeviceID)
		c.Set(KeyHintKey, claims.KeyHint)

		c.Next()
	}
}

// AdminTokenMiddleware gates the admin surface behind the operator token.
// The raw token is compared against the bcrypt hash from configuration. When
// no hash is configured the whole admin surface is disabled with 403, so a
// default deployment exposes no admin endpoints at all.
func AdminTokenMiddleware(cfg *config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.TokenHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin API is disabled. Set KG_ADMIN_TOKEN_HASH to enable it.",
			})
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed authorization header",
			})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(cfg.TokenHash), []byte(token)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid admin token",
			})
			return
		}

		c.Next()
	}
}

// bearerToken extracts a non-empty token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
