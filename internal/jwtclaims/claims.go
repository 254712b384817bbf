// Package jwtclaims reads claims out of bearer tokens WITHOUT verifying them.
//
// Nothing here checks a signature. The decoded claims are display metadata
// (for example when a stored token expires) and must never be used to decide
// whether a caller is authenticated.
package jwtclaims

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrMalformedToken is returned when a token does not have exactly three segments.
	ErrMalformedToken = errors.New("malformed token: expected 3 dot-separated segments")

	// ErrDecode is returned when the payload segment is not base64url-encoded JSON.
	ErrDecode = errors.New("token payload decode failed")
)

// Claims holds the subset of registered and service-specific claims we know about.
// All fields are optional.
type Claims struct {
	UserID    *int64  `json:"user_id,omitempty"`
	Version   *int    `json:"version,omitempty"`
	TokenType *string `json:"token_type,omitempty"`
	ExpiresAt *int64  `json:"exp,omitempty"`
	IssuedAt  *int64  `json:"iat,omitempty"`
	NotBefore *int64  `json:"nbf,omitempty"`
}

// DecodeUnverified splits token into header.payload.signature and decodes the
// payload. The signature segment is ignored.
func DecodeUnverified(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	return &claims, nil
}

// Expiry returns the exp claim as a time, if present.
func (c *Claims) Expiry() (time.Time, bool) {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return time.Unix(*c.ExpiresAt, 0).UTC(), true
}

// ExtractExpiry returns the token's exp claim formatted as RFC3339.
// Expiry display is best-effort: decode failures are logged and reported as
// "unknown" rather than returned.
func ExtractExpiry(token string) (string, bool) {
	claims, err := DecodeUnverified(token)
	if err != nil {
		slog.Warn("token expiry unavailable", "error", err)
		return "", false
	}
	exp, ok := claims.Expiry()
	if !ok {
		return "", false
	}
	return exp.Format(time.RFC3339), true
}
