package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification
var ErrInvalidToken = errors.New("session: invalid token")

// Claims are the session token claims
type Claims struct {
	UserID   string `json:"user_id"`
	ScriptID string `json:"script_id,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a session token, used by tooling and tests
func IssueToken(secret, userID, scriptID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		ScriptID: scriptID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies an HS256 session token
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ClaimsProvider exposes verified token claims as session values
type ClaimsProvider struct {
	Claims *Claims
}

// Lookup implements Provider
func (p ClaimsProvider) Lookup(_ context.Context, key string) (string, bool, error) {
	if p.Claims == nil {
		return "", false, nil
	}
	switch key {
	case KeyUserID:
		return p.Claims.UserID, p.Claims.UserID != "", nil
	case KeyIdeaID:
		return p.Claims.ScriptID, p.Claims.ScriptID != "", nil
	}
	return "", false, nil
}
