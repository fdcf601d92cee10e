// This package contains the user/token validation boundary used by authenticated websocket
// servers: token extraction from the upgrade request, the UserValidator interface consumed by the
// server and JWT and static implementations.
package wsauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Errors returned by Authorize.
var (
	ErrMissingToken = errors.New("no token in upgrade request")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoUserID     = errors.New("token does not resolve to a user id")
)

// Query parameters searched for a token, in order.
var tokenQueryParameters = []string{"token", "access_token"}

// External user/token validation service.
type UserValidator interface {
	// # Description
	//
	// Return true if token is valid.
	IsValidToken(ctx context.Context, token string) bool
	// # Description
	//
	// Return the ID of the user the token belongs to. Only called for valid tokens.
	GetID(ctx context.Context, token string) (string, error)
}

// # Description
//
// Extract a token from the request URI of an upgrade request or from the raw path/token string
// provided by a hosting adapter.
//
// The token is searched, in order, in the "token" query parameter, in the "access_token" query
// parameter and finally in the last non-empty path segment. A raw string without any "/" or "?"
// is its own last path segment.
//
// # Returns
//
// The token and true if one has been found.
func ExtractToken(rawPathOrURI string) (string, bool) {
	raw := strings.TrimSpace(rawPathOrURI)
	if raw == "" {
		return "", false
	}
	path, rawQuery, _ := strings.Cut(raw, "?")
	if query, err := url.ParseQuery(rawQuery); err == nil {
		for _, name := range tokenQueryParameters {
			if token := strings.TrimSpace(query.Get(name)); token != "" {
				return token, true
			}
		}
	}
	// Strip scheme and authority of absolute URIs
	if u, err := url.Parse(path); err == nil && u.Host != "" {
		path = u.Path
	}
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segment := strings.TrimSpace(segments[i]); segment != "" {
			if unescaped, err := url.PathUnescape(segment); err == nil {
				return unescaped, true
			}
			return segment, true
		}
	}
	return "", false
}

// # Description
//
// Extract a token from rawPathOrURI and resolve it to a user ID with validator.
//
// # Returns
//
// The user ID or an error wrapping ErrMissingToken, ErrInvalidToken or ErrNoUserID.
func Authorize(ctx context.Context, validator UserValidator, rawPathOrURI string) (string, error) {
	token, found := ExtractToken(rawPathOrURI)
	if !found {
		return "", ErrMissingToken
	}
	if !validator.IsValidToken(ctx, token) {
		return "", ErrInvalidToken
	}
	userID, err := validator.GetID(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoUserID, err)
	}
	if userID == "" {
		return "", ErrNoUserID
	}
	return userID, nil
}

// Validator backed by a fixed token -> user ID table.
type StaticValidator struct {
	users map[string]string
}

// Factory which creates a StaticValidator from a token -> user ID table. The table is copied.
func NewStaticValidator(users map[string]string) *StaticValidator {
	copied := make(map[string]string, len(users))
	for token, userID := range users {
		copied[token] = userID
	}
	return &StaticValidator{users: copied}
}

func (v *StaticValidator) IsValidToken(ctx context.Context, token string) bool {
	_, found := v.users[token]
	return found
}

func (v *StaticValidator) GetID(ctx context.Context, token string) (string, error) {
	userID, found := v.users[token]
	if !found {
		return "", ErrInvalidToken
	}
	return userID, nil
}
