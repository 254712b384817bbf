package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/acctkeeper/internal/account"
	"github.com/florianilch/acctkeeper/internal/accountstore"
	"github.com/florianilch/acctkeeper/internal/jwtclaims"
	"github.com/florianilch/acctkeeper/internal/verdentapi"
)

var (
	// ErrNoToken is returned for operations that need a bearer token the
	// account does not have.
	ErrNoToken = errors.New("account has no token")
	// ErrMissingEmail is returned when a fetched profile carries no email.
	ErrMissingEmail = errors.New("profile has no email")
	// ErrNoCredentials is returned when re-login is requested for an account
	// without a stored email and password.
	ErrNoCredentials = errors.New("account has no stored credentials")
)

// List returns all stored accounts.
func (a *App) List(ctx context.Context) ([]account.Record, error) {
	c, outcome, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	if outcome != accountstore.LoadClean {
		slog.WarnContext(ctx, "accounts file was repaired on load", "outcome", outcome.String())
	}
	return c.Accounts, nil
}

// Get returns one account.
func (a *App) Get(_ context.Context, id string) (account.Record, error) {
	return a.store.Get(id)
}

// Delete removes one account.
func (a *App) Delete(ctx context.Context, id string) error {
	if err := a.store.Delete(id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "account deleted", "id", id)
	return nil
}

// ImportToken fetches the profile behind token and stores it, updating the
// account with the same email when one exists.
func (a *App) ImportToken(ctx context.Context, token string) (account.Record, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return account.Record{}, ErrNoToken
	}

	profile, err := a.client.FetchProfileWithRetry(ctx, token, a.cfg.API.MaxAttempts)
	if err != nil {
		return account.Record{}, err
	}
	if profile.Email == "" {
		return account.Record{}, ErrMissingEmail
	}

	return a.upsert(ctx, profile.Email, profile, token, nil)
}

// ImportCredentials signs in with email and password and stores the account
// together with its password so it can be re-logged in later.
func (a *App) ImportCredentials(ctx context.Context, email, password string) (account.Record, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return account.Record{}, ErrNoCredentials
	}

	login, err := a.client.Login(ctx, email, password)
	if err != nil {
		return account.Record{}, err
	}

	profile, err := a.client.FetchProfileWithRetry(ctx, login.Token, a.cfg.API.MaxAttempts)
	if err != nil {
		return account.Record{}, err
	}
	if profile.Email != "" && !strings.EqualFold(profile.Email, email) {
		slog.WarnContext(ctx, "profile email differs from login email, keeping profile email")
		email = profile.Email
	}

	return a.upsert(ctx, email, profile, login.Token, &password)
}

func (a *App) upsert(ctx context.Context, email string, p *verdentapi.Profile, token string, password *string) (account.Record, error) {
	r, created, err := a.store.UpsertByEmail(email, func(r *account.Record, now time.Time) {
		if password != nil {
			r.Password = *password
		}
		account.ApplyProfile(r, p, token, now)
	})
	if err != nil {
		return account.Record{}, fmt.Errorf("storing account: %w", err)
	}

	slog.InfoContext(ctx, "account imported", "id", r.ID, "created", created,
		"status", r.Status, "quota_remaining", r.QuotaRemaining.String())
	return r, nil
}

// RefreshAccount re-fetches the profile of a stored account and persists the
// derived quota, subscription and expiry.
func (a *App) RefreshAccount(ctx context.Context, id string) (account.Record, error) {
	r, err := a.store.Get(id)
	if err != nil {
		return account.Record{}, err
	}
	if r.Token == "" {
		return account.Record{}, fmt.Errorf("%w: %s", ErrNoToken, id)
	}

	profile, err := a.client.FetchProfileWithRetry(ctx, r.Token, a.cfg.API.MaxAttempts)
	if err != nil {
		return account.Record{}, err
	}

	updated, err := a.store.Modify(id, func(rec *account.Record, now time.Time) {
		// The token may have been replaced while the fetch was in flight.
		token := rec.Token
		if token == "" {
			token = r.Token
		}
		account.ApplyProfile(rec, profile, token, now)
	})
	if err != nil {
		return account.Record{}, err
	}

	slog.InfoContext(ctx, "account refreshed", "id", id,
		"status", updated.Status, "quota_remaining", updated.QuotaRemaining.String())
	return updated, nil
}

// RefreshResult is the outcome for one account of RefreshAll.
type RefreshResult struct {
	ID     string
	Email  string
	Record account.Record
	Err    error
}

// RefreshAll refreshes every account that has a token, at most
// refresh.concurrency at a time. A failing account does not stop the others.
func (a *App) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	records, err := a.List(ctx)
	if err != nil {
		return nil, err
	}

	var results []RefreshResult
	for _, r := range records {
		if r.Token == "" {
			slog.DebugContext(ctx, "skipping account without token", "id", r.ID)
			continue
		}
		results = append(results, RefreshResult{ID: r.ID, Email: r.Email})
	}

	var g errgroup.Group
	g.SetLimit(a.cfg.Refresh.Concurrency)
	for i := range results {
		g.Go(func() error {
			res := &results[i]
			res.Record, res.Err = a.RefreshAccount(ctx, res.ID)
			if res.Err != nil {
				slog.WarnContext(ctx, "account refresh failed", "id", res.ID, "error", res.Err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

// Relogin signs in again with the stored credentials, persists the new token
// and then refreshes the profile. A failed profile refresh is logged and the
// new token is kept.
func (a *App) Relogin(ctx context.Context, id string) (account.Record, error) {
	r, err := a.store.Get(id)
	if err != nil {
		return account.Record{}, err
	}
	if r.Email == "" || r.Password == "" {
		return account.Record{}, fmt.Errorf("%w: %s", ErrNoCredentials, id)
	}

	login, err := a.client.Login(ctx, r.Email, r.Password)
	if err != nil {
		return account.Record{}, err
	}

	// token_expire_time always comes from the JWT; the login's own expireTime
	// describes the session and is not stored.
	updated, err := a.store.Modify(id, func(rec *account.Record, _ time.Time) {
		rec.SetToken(login.Token, jwtclaims.ExtractExpiry)
	})
	if err != nil {
		return account.Record{}, err
	}
	slog.InfoContext(ctx, "account re-logged in", "id", id, "token_expire_time", updated.TokenExpireTime)

	refreshed, err := a.RefreshAccount(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "profile refresh after re-login failed", "id", id,
			"error", verdentapi.Classify(err).Message)
		return updated, nil
	}
	return refreshed, nil
}
