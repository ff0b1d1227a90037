package middleware

import (
	"net/http"
	"strings"

	"knowte-api/internal/auth"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuth.
const (
	SubjectIDKey = "subject_id"
	EmailKey     = "email"
)

// CredentialVerifier resolves an access token to a subject.
type CredentialVerifier interface {
	VerifyCredential(token string) (auth.Subject, error)
}

// JWTAuth validates the bearer token in the Authorization header
func JWTAuth(verifier CredentialVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		// Fallback for WebSocket/browser where custom headers cannot be set: allow token in query param
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is required",
				"kind":  "unauthorized",
			})
			return
		}

		subject, err := verifier.VerifyCredential(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
				"kind":  "unauthorized",
			})
			return
		}

		c.Set(SubjectIDKey, subject.ID)
		c.Set(EmailKey, subject.Email)
		c.Next()
	}
}
