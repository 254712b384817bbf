package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session is the result of an editor login handoff.
type Session struct {
	AccessToken string    `json:"access_token"`
	AccountID   string    `json:"account_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	CallbackURL string    `json:"callback_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// Expired reports whether the session has a known expiry before now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Encode renders s for storage.
func (s Session) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding session: %w", err)
	}
	return string(data), nil
}

// DecodeSession parses a stored value. Anything that is not a JSON object is
// taken as a bare access token.
func DecodeSession(value string) (Session, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Session{}, fmt.Errorf("empty session")
	}
	if !strings.HasPrefix(value, "{") {
		return Session{AccessToken: value}, nil
	}

	var s Session
	if err := json.Unmarshal([]byte(value), &s); err != nil {
		return Session{}, fmt.Errorf("decoding session: %w", err)
	}
	if s.AccessToken == "" {
		return Session{}, fmt.Errorf("session has no access token")
	}
	return s, nil
}

// ReadSession reads and decodes the session from store.
func ReadSession(ctx context.Context, store TokenStore) (Session, error) {
	value, err := store.Read(ctx)
	if err != nil {
		return Session{}, err
	}
	return DecodeSession(value)
}

// WriteSession encodes s and writes it to store.
func WriteSession(ctx context.Context, store TokenStore, s Session) error {
	value, err := s.Encode()
	if err != nil {
		return err
	}
	return store.Write(ctx, value)
}
