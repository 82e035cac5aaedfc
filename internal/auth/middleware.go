package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the key for storing the API key in gin context.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAgencyID is the key for storing the authenticated agency ID.
	ContextKeyAgencyID = "authAgencyID"
	// ContextKeyOperator marks the request as operator-authenticated.
	ContextKeyOperator = "authOperator"
)

// Middleware extracts and validates credentials from the request.
// Sets the API key and agency ID in context if a valid key is present, and
// the operator flag if the operator secret header matches.
func Middleware(m *Manager, operatorSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAgencyID, key.AgencyID)
			}
		}

		if operatorSecret != "" {
			provided := c.GetHeader("X-Admin-Secret")
			if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(operatorSecret)) == 1 {
				c.Set(ContextKeyOperator, true)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a valid API key or operator secret.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, hasKey := c.Get(ContextKeyAPIKey); !hasKey && !IsOperator(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAgency requires a key bound to the agency in the :paramName URL
// parameter. Operators pass regardless.
func RequireAgency(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsOperator(c) {
			c.Next()
			return
		}

		agencyID := GetAgencyID(c)
		if agencyID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		if agencyID != c.Param(paramName) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Not your agency.",
			})
			return
		}

		c.Next()
	}
}

// RequireOperator rejects requests that lack the operator secret.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsOperator(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Operator access required.",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated).
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	return key.(*APIKey), true
}

// GetAgencyID returns the authenticated agency's ID.
func GetAgencyID(c *gin.Context) string {
	id, exists := c.Get(ContextKeyAgencyID)
	if !exists {
		return ""
	}
	return id.(string)
}

// IsOperator reports whether the request is operator-authenticated.
func IsOperator(c *gin.Context) bool {
	v, exists := c.Get(ContextKeyOperator)
	return exists && v.(bool)
}
