package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mariiahub/booking-reconciliation/internal/apperr"
	"github.com/mariiahub/booking-reconciliation/pkg/jwt"
	"github.com/sirupsen/logrus"
)

// UserContextKey is the key used to store user information in Gin context
const UserContextKey = "user"

// UserContext represents the authenticated user's information
type UserContext struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles"`
}

// abort writes the API error envelope and stops the chain
func abort(c *gin.Context, status int, kind apperr.Kind, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"kind":      kind,
			"code":      code,
			"message":   message,
			"retryable": false,
			"requestId": GetRequestID(c),
		},
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// ok is false when the header is present but malformed.
func bearerToken(header string) (token string, ok bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	token = strings.TrimSpace(parts[1])
	return token, token != ""
}

// AuthMiddleware creates a middleware that validates JWT tokens
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logrus.WithFields(logrus.Fields{
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
			"request_id": GetRequestID(c),
		})

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("AUTH FAILED: Missing authorization header")
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "MISSING_AUTH_HEADER", "Authorization header is required")
			return
		}

		tokenString, ok := bearerToken(authHeader)
		if !ok {
			log.Warn("AUTH FAILED: Invalid auth format")
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "INVALID_AUTH_FORMAT",
				"Invalid authorization header format. Expected: Bearer <token>")
			return
		}

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			if jwt.IsExpired(err) {
				log.WithError(err).Warn("AUTH FAILED: Token expired")
				abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "TOKEN_EXPIRED", "Access token has expired")
			} else {
				log.WithError(err).Warn("AUTH FAILED: Invalid token")
				abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "INVALID_TOKEN", "Invalid access token")
			}
			return
		}

		c.Set(UserContextKey, UserContext{
			UserID: claims.UserID,
			Email:  claims.Email,
			Roles:  claims.Roles,
		})
		c.Next()
	}
}

// OptionalAuthMiddleware attaches the user when a valid token is sent and
// lets anonymous requests through. A malformed or invalid token is still
// rejected so clients notice broken credentials.
func OptionalAuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	required := AuthMiddleware(jwtService)
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		required(c)
	}
}

// RequireRole creates a middleware that checks if user has required role
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abort(c, http.StatusUnauthorized, apperr.KindUnauthorized, "MISSING_USER_CONTEXT",
				"User context not found. Auth middleware may not be applied.")
			return
		}

		for _, required := range roles {
			for _, role := range userCtx.Roles {
				if role == required {
					c.Next()
					return
				}
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"kind":      "Forbidden",
				"code":      "INSUFFICIENT_PERMISSIONS",
				"message":   "You don't have permission to access this resource",
				"retryable": false,
				"requestId": GetRequestID(c),
			},
		})
	}
}

// GetUserContext retrieves the user context from Gin context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}

	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}

	return userCtx, true
}

// GetUserID returns the authenticated user's id, or "" for anonymous requests
func GetUserID(c *gin.Context) string {
	userCtx, _ := GetUserContext(c)
	return userCtx.UserID
}

// MustGetUserContext retrieves the user context or panics (use only after AuthMiddleware)
func MustGetUserContext(c *gin.Context) UserContext {
	userCtx, exists := GetUserContext(c)
	if !exists {
		panic("user context not found - ensure AuthMiddleware is applied")
	}
	return userCtx
}
