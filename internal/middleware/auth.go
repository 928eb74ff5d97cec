package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/antiprophet/studio/internal/session"
)

const (
	AuthContextKey = "auth"
	UserIDKey      = "user_id"

	// SessionCookie names the cookie holding a server-side session scope
	SessionCookie = "studio_session"
	// HeyGenKeyHeader lets a client pass its locally stored video API key
	HeyGenKeyHeader = "X-HeyGen-Api-Key"
)

// AuthOptions configures SessionAuth
type AuthOptions struct {
	JWTSecret string
	// Sessions resolves a session cookie to a provider; nil disables it
	Sessions func(scope string) session.Provider
}

// SessionAuth resolves the caller's AuthContext from, in order: a bearer
// token, a server-side session, request headers and plain cookies. Only the
// first two can identify the user.
func SessionAuth(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var providers []session.Provider

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
				c.Abort()
				return
			}

			claims, err := session.ParseToken(opts.JWTSecret, parts[1])
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
				c.Abort()
				return
			}
			providers = append(providers, session.ClaimsProvider{Claims: claims})
		}

		if opts.Sessions != nil {
			if scope, err := c.Cookie(SessionCookie); err == nil && scope != "" {
				providers = append(providers, opts.Sessions(scope))
			}
		}

		// headers and plain cookies are unsigned: they never name the user
		if key := c.GetHeader(HeyGenKeyHeader); key != "" {
			providers = append(providers, session.Attributes(session.MapProvider{session.KeyHeyGenAPIKey: key}))
		}
		providers = append(providers, session.Attributes(session.CookieProvider{Request: c.Request}))

		auth, err := session.Resolve(c.Request.Context(), providers...)
		if errors.Is(err, session.ErrMissingUserID) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User id is missing, please sign in again"})
			c.Abort()
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read session"})
			c.Abort()
			return
		}

		c.Set(AuthContextKey, auth)
		c.Set(UserIDKey, auth.UserID)
		c.Next()
	}
}

// GetAuth retrieves the resolved AuthContext
func GetAuth(c *gin.Context) (session.AuthContext, bool) {
	v, exists := c.Get(AuthContextKey)
	if !exists {
		return session.AuthContext{}, false
	}
	auth, ok := v.(session.AuthContext)
	return auth, ok
}

// GetUserID retrieves the user ID from the context
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	userIDStr, ok := userID.(string)
	return userIDStr, ok
}
