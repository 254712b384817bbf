package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/acctkeeper/internal/jwtclaims"
)

// tokenExpiryLeeway treats a token as expired slightly before its exp claim.
const tokenExpiryLeeway = time.Minute

// AccountTokenSource yields a usable bearer token for one stored account,
// re-logging in with the stored credentials once the token has expired.
// The new token is persisted to the account store.
type AccountTokenSource struct {
	app       *App
	accountID string

	// writeMu keeps concurrent callers from racing each other into Relogin.
	writeMu sync.Mutex
}

// Compile-time check to ensure AccountTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*AccountTokenSource)(nil)

// TokenSource returns a caching oauth2.TokenSource for the account with id.
// No I/O is performed until the first Token call.
func (a *App) TokenSource(id string) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, &AccountTokenSource{app: a, accountID: id}, tokenExpiryLeeway)
}

// Token returns the stored token while it is valid, otherwise a fresh one.
func (s *AccountTokenSource) Token() (*oauth2.Token, error) {
	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	ctx := context.Background()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	r, err := s.app.store.Get(s.accountID)
	if err != nil {
		return nil, err
	}

	if tok, ok := s.storedToken(r.Token); ok {
		return tok, nil
	}

	slog.InfoContext(ctx, "stored token expired, re-logging in", "id", s.accountID)
	r, err = s.app.Relogin(ctx, s.accountID)
	if err != nil {
		return nil, fmt.Errorf("re-login for account %s: %w", s.accountID, err)
	}

	tok, ok := s.storedToken(r.Token)
	if !ok {
		return nil, fmt.Errorf("re-login for account %s returned an expired token", s.accountID)
	}
	return tok, nil
}

// storedToken wraps token when it is present and not about to expire. Tokens
// without a readable exp claim are used as-is.
func (s *AccountTokenSource) storedToken(token string) (*oauth2.Token, bool) {
	if token == "" {
		return nil, false
	}
	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}

	claims, err := jwtclaims.DecodeUnverified(token)
	if err != nil {
		return tok, true
	}
	exp, ok := claims.Expiry()
	if !ok {
		return tok, true
	}
	if !s.app.now().Add(tokenExpiryLeeway).Before(exp) {
		return nil, false
	}
	tok.Expiry = exp
	return tok, true
}
