package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/acctkeeper/internal/account"
	"github.com/florianilch/acctkeeper/internal/accountstore"
	"github.com/florianilch/acctkeeper/internal/server"
	"github.com/florianilch/acctkeeper/internal/tokenstore"
	"github.com/florianilch/acctkeeper/internal/verdentapi"
)

// Option customizes an App.
type Option func(*App)

// WithClient replaces the remote API client.
func WithClient(c *verdentapi.Client) Option {
	return func(a *App) {
		a.client = c
	}
}

// WithTokenStore replaces the session backend derived from the config.
func WithTokenStore(ts tokenstore.TokenStore) Option {
	return func(a *App) {
		a.sessions = func() (tokenstore.TokenStore, error) { return ts, nil }
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// App wires the account store, the remote client and the session store into
// the account management operations.
type App struct {
	cfg    *Config
	store  *accountstore.Store
	client *verdentapi.Client
	now    func() time.Time

	// sessions is resolved on first use; env storage fails when its variable
	// is unset, which must not break commands that never touch the session.
	sessions func() (tokenstore.TokenStore, error)
}

// New creates a new App instance.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{
		cfg:      cfg,
		now:      time.Now,
		sessions: sync.OnceValues(cfg.Session.NewTokenStore),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		a.client = verdentapi.New(
			verdentapi.WithEndpoints(cfg.API.Endpoints()),
			verdentapi.WithTimeouts(cfg.API.ConnectTimeout, cfg.API.RequestTimeout),
			verdentapi.WithRetryStep(cfg.API.RetryStep),
		)
	}

	store, err := accountstore.Open(cfg.Store.Path, accountstore.WithClock(a.now))
	if err != nil {
		return nil, fmt.Errorf("failed to open account store: %w", err)
	}
	a.store = store

	return a, nil
}

// Store exposes the underlying account store.
func (a *App) Store() *accountstore.Store { return a.store }

// Serve runs the local API and the store watcher until ctx is cancelled.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Serve(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	srv, err := server.New(a, server.WithClientErrors(ErrNoToken, ErrNoCredentials, ErrMissingEmail))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	slog.InfoContext(gCtx, "starting api server", "address", address)
	srvErrCh, err := srv.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, srv.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-srvErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		err := a.store.Watch(gCtx, func(c *account.Collection, outcome accountstore.LoadOutcome) {
			slog.InfoContext(gCtx, "accounts file changed externally",
				"accounts", len(c.Accounts), "outcome", outcome.String())
		})
		if err != nil {
			// Watching is an extra; the API keeps serving without it.
			slog.WarnContext(gCtx, "store watcher stopped", "error", err)
		}
		return nil
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "store", a.store.Path())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
