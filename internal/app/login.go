package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/florianilch/acctkeeper/internal/jwtclaims"
	"github.com/florianilch/acctkeeper/internal/pkce"
	"github.com/florianilch/acctkeeper/internal/tokenstore"
)

// Editor selects the URL scheme the login handoff is addressed to.
type Editor string

const (
	EditorVSCode   Editor = "vscode"
	EditorWindsurf Editor = "windsurf"
)

const extensionAuthority = "verdentai.verdent"

// CallbackURL returns <editor>://verdentai.verdent/auth?code=..&state=..
func (e Editor) CallbackURL(code, state string) (string, error) {
	switch e {
	case EditorVSCode, EditorWindsurf:
	default:
		return "", fmt.Errorf("unsupported editor: %q", e)
	}
	u := url.URL{
		Scheme:   string(e),
		Host:     extensionAuthority,
		Path:     "/auth",
		RawQuery: url.Values{"code": {code}, "state": {state}}.Encode(),
	}
	return u.String(), nil
}

// Handoff is the result of a PKCE login for an editor extension.
type Handoff struct {
	AccessToken string
	CallbackURL string
	Persisted   bool
}

// LoginWithToken runs the PKCE handshake with bearer, builds the editor
// callback URL and stores the exchanged access token as the current session.
func (a *App) LoginWithToken(ctx context.Context, bearer string, editor Editor) (*Handoff, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, ErrNoToken
	}
	return a.handoff(ctx, bearer, editor, tokenstore.Session{})
}

// LoginAccount runs LoginWithToken with a stored account's token.
func (a *App) LoginAccount(ctx context.Context, id string, editor Editor) (*Handoff, error) {
	r, err := a.store.Get(id)
	if err != nil {
		return nil, err
	}
	if r.Token == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, id)
	}
	return a.handoff(ctx, r.Token, editor, tokenstore.Session{AccountID: r.ID, Email: r.Email})
}

func (a *App) handoff(ctx context.Context, bearer string, editor Editor, session tokenstore.Session) (*Handoff, error) {
	// Fail on a bad editor before any network traffic.
	if _, err := editor.CallbackURL("", ""); err != nil {
		return nil, err
	}

	params, err := pkce.Generate()
	if err != nil {
		return nil, err
	}

	code, err := a.client.RequestAuthCode(ctx, bearer, params)
	if err != nil {
		return nil, fmt.Errorf("requesting auth code: %w", err)
	}
	slog.DebugContext(ctx, "auth code received", "code_length", len(code))

	accessToken, err := a.client.ExchangeToken(ctx, code, params.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("exchanging auth code: %w", err)
	}

	callback, err := editor.CallbackURL(code, params.State)
	if err != nil {
		return nil, err
	}

	h := &Handoff{AccessToken: accessToken, CallbackURL: callback}

	session.AccessToken = accessToken
	session.CallbackURL = callback
	session.CreatedAt = a.now().UTC()
	if claims, err := jwtclaims.DecodeUnverified(accessToken); err == nil {
		if exp, ok := claims.Expiry(); ok {
			session.ExpiresAt = exp
		}
	}

	if err := a.writeSession(ctx, session); err != nil {
		if !errors.Is(err, tokenstore.ErrReadOnly) {
			return nil, fmt.Errorf("saving session: %w", err)
		}
		slog.WarnContext(ctx, "session storage is read-only, session not saved")
	} else {
		h.Persisted = true
	}

	slog.InfoContext(ctx, "editor login prepared", "editor", string(editor),
		"account_id", session.AccountID, "token_length", len(accessToken))
	return h, nil
}

func (a *App) writeSession(ctx context.Context, s tokenstore.Session) error {
	store, err := a.sessions()
	if err != nil {
		return err
	}
	return tokenstore.WriteSession(ctx, store, s)
}

// CurrentSession returns the stored editor session.
func (a *App) CurrentSession(ctx context.Context) (tokenstore.Session, error) {
	store, err := a.sessions()
	if err != nil {
		return tokenstore.Session{}, err
	}
	return tokenstore.ReadSession(ctx, store)
}

// ClearSession removes the stored editor session.
func (a *App) ClearSession(ctx context.Context) error {
	store, err := a.sessions()
	if err != nil {
		return err
	}
	if err := store.Clear(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "session cleared")
	return nil
}
