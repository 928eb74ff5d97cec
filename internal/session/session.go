// Package session reads the persisted client-side inputs a studio session
// needs: who the user is, which script the videos belong to and the user's
// own video API key.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Well-known keys
const (
	KeyUserID       = "user_id"
	KeyIdeaID       = "idea_id"
	KeyHeyGenAPIKey = "heygen_api_key"
)

// ErrMissingUserID is returned when no provider knows the user
var ErrMissingUserID = errors.New("session: user id is missing")

// Provider is a read-only key-value source of persisted session state
type Provider interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// AuthContext carries the identifiers a job status check is made with
type AuthContext struct {
	UserID       string `json:"user_id"`
	ScriptID     string `json:"script_id"`
	HeyGenAPIKey string `json:"-"`
}

// Validate checks the fields the backend cannot do without
func (a AuthContext) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return ErrMissingUserID
	}
	return nil
}

// Resolve builds an AuthContext, asking providers in order for each key.
// The first provider that has a key wins.
func Resolve(ctx context.Context, providers ...Provider) (AuthContext, error) {
	var auth AuthContext

	for _, f := range []struct {
		key  string
		dest *string
	}{
		{KeyUserID, &auth.UserID},
		{KeyIdeaID, &auth.ScriptID},
		{KeyHeyGenAPIKey, &auth.HeyGenAPIKey},
	} {
		v, err := lookupFirst(ctx, f.key, providers)
		if err != nil {
			return AuthContext{}, err
		}
		*f.dest = v
	}

	if err := auth.Validate(); err != nil {
		return AuthContext{}, err
	}
	return auth, nil
}

func lookupFirst(ctx context.Context, key string, providers []Provider) (string, error) {
	for _, p := range providers {
		if p == nil {
			continue
		}
		v, ok, err := p.Lookup(ctx, key)
		if err != nil {
			return "", fmt.Errorf("session: lookup %s: %w", key, err)
		}
		if ok && v != "" {
			return v, nil
		}
	}
	return "", nil
}

// MapProvider serves fixed values
type MapProvider map[string]string

// Lookup implements Provider
func (m MapProvider) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

// CookieProvider reads values from request cookies
type CookieProvider struct {
	Request *http.Request
}

// Lookup implements Provider
func (p CookieProvider) Lookup(_ context.Context, key string) (string, bool, error) {
	if p.Request == nil {
		return "", false, nil
	}
	c, err := p.Request.Cookie(key)
	if errors.Is(err, http.ErrNoCookie) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return c.Value, true, nil
}

// Attributes hides the user id of an unverified source so it can only
// supply the script and API key of an already identified user.
func Attributes(p Provider) Provider {
	return attributesOnly{p}
}

type attributesOnly struct {
	Provider
}

func (a attributesOnly) Lookup(ctx context.Context, key string) (string, bool, error) {
	if key == KeyUserID || a.Provider == nil {
		return "", false, nil
	}
	return a.Provider.Lookup(ctx, key)
}
