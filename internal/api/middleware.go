package api

import (
	"net/http"
	"strings"
	"time"

	"mindleap-provisioning/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	operatorKey  = "operator"
	requestIDKey = "request_id"
)

// TokenParser verifies operator bearer tokens.
type TokenParser interface {
	Parse(token string) (*auth.OperatorClaims, error)
}

// RequestLogger logs one line per request and tags it with a request id.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("operator", operatorID(c)).
			Msg("Request handled")
	}
}

// Recovery turns a panic in a handler into a 500 response.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Interface("panic", recovered).
			Str("path", c.Request.URL.Path).
			Msg("Recovered from panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	})
}

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Authenticate requires a valid operator bearer token.
func Authenticate(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == header || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			return
		}

		claims, err := tokens.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(operatorKey, claims)
		c.Next()
	}
}

// RequirePermission must run after Authenticate.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := operator(c)
		if claims == nil || !claims.Can(permission) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "Permission denied",
				"permission": permission,
			})
			return
		}
		c.Next()
	}
}

func operator(c *gin.Context) *auth.OperatorClaims {
	v, ok := c.Get(operatorKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.OperatorClaims)
	return claims
}

func operatorID(c *gin.Context) string {
	if claims := operator(c); claims != nil {
		return claims.Subject
	}
	return ""
}
