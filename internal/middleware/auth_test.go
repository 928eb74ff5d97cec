package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antiprophet/studio/internal/session"
)

const testSecret = "test-secret"

func authRouter(opts AuthOptions, seen *session.AuthContext) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SessionAuth(opts))
	router.GET("/test", func(c *gin.Context) {
		auth, ok := GetAuth(c)
		if ok && seen != nil {
			*seen = auth
		}
		userID, _ := GetUserID(c)
		c.String(http.StatusOK, userID)
	})
	return router
}

func TestSessionAuthRejects(t *testing.T) {
	expired, err := session.IssueToken(testSecret, "1", "", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"no credentials", ""},
		{"invalid format", "InvalidToken"},
		{"bad token", "Bearer abc.def.ghi"},
		{"expired token", "Bearer " + expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := authRouter(AuthOptions{JWTSecret: testSecret}, nil)
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestSessionAuthWithValidToken(t *testing.T) {
	token, err := session.IssueToken(testSecret, "test-user-id", "script-9", time.Hour)
	require.NoError(t, err)

	var seen session.AuthContext
	router := authRouter(AuthOptions{JWTSecret: testSecret}, &seen)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeyGenKeyHeader, "hg-key")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test-user-id", w.Body.String())
	assert.Equal(t, "script-9", seen.ScriptID)
	assert.Equal(t, "hg-key", seen.HeyGenAPIKey)
}

func TestSessionAuthIgnoresUserCookie(t *testing.T) {
	router := authRouter(AuthOptions{JWTSecret: testSecret}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: session.KeyUserID, Value: "victim-42"})
	req.AddCookie(&http.Cookie{Name: session.KeyIdeaID, Value: "3"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "victim-42")
}

func TestSessionAuthCookiesFillAttributes(t *testing.T) {
	token, err := session.IssueToken(testSecret, "owner", "", time.Hour)
	require.NoError(t, err)

	var seen session.AuthContext
	router := authRouter(AuthOptions{JWTSecret: testSecret}, &seen)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: session.KeyUserID, Value: "42"})
	req.AddCookie(&http.Cookie{Name: session.KeyIdeaID, Value: "3"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner", seen.UserID)
	assert.Equal(t, "3", seen.ScriptID)
}

func TestSessionAuthWithServerSession(t *testing.T) {
	var scopes []string
	opts := AuthOptions{
		JWTSecret: testSecret,
		Sessions: func(scope string) session.Provider {
			scopes = append(scopes, scope)
			return session.MapProvider{session.KeyUserID: "77", session.KeyHeyGenAPIKey: "stored-key"}
		},
	}

	var seen session.AuthContext
	router := authRouter(opts, &seen)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sess-1"})
	req.AddCookie(&http.Cookie{Name: session.KeyUserID, Value: "1"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"sess-1"}, scopes)
	assert.Equal(t, "77", seen.UserID, "server session wins over plain cookies")
	assert.Equal(t, "stored-key", seen.HeyGenAPIKey)
}

type brokenProvider struct{}

func (brokenProvider) Lookup(context.Context, string) (string, bool, error) {
	return "", false, assert.AnError
}

func TestSessionAuthProviderError(t *testing.T) {
	router := authRouter(AuthOptions{Sessions: func(string) session.Provider { return brokenProvider{} }}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sess-1"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
