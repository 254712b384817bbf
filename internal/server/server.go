package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/florianilch/acctkeeper/internal/account"
)

// maxBodyBytes bounds request payloads; imports carry a token or credentials only.
const maxBodyBytes = 64 << 10

// Accounts is the account management surface the API exposes.
type Accounts interface {
	List(ctx context.Context) ([]account.Record, error)
	Get(ctx context.Context, id string) (account.Record, error)
	Delete(ctx context.Context, id string) error
	RefreshAccount(ctx context.Context, id string) (account.Record, error)
	ImportToken(ctx context.Context, token string) (account.Record, error)
	ImportCredentials(ctx context.Context, email, password string) (account.Record, error)
}

// Option configures a Server.
type Option func(*Server)

// WithClientErrors marks errors (matched with errors.Is) that are the caller's
// fault and answered with 422 instead of 500.
func WithClientErrors(errs ...error) Option {
	return func(s *Server) {
		s.clientErrors = append(s.clientErrors, errs...)
	}
}

// Server is the loopback JSON API over the account store.
type Server struct {
	accounts     Accounts
	clientErrors []error

	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates the API handler.
func New(accounts Accounts, opts ...Option) (*Server, error) {
	if accounts == nil {
		return nil, errors.New("missing accounts service")
	}

	s := &Server{accounts: accounts}
	for _, opt := range opts {
		opt(s)
	}

	logger := slog.Default()
	wrap := func(h http.HandlerFunc) http.Handler {
		return applyMiddlewares(h,
			Logging(logger),
			Recovery,
			RequestID,
		)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", wrap(s.handleHealth))
	mux.Handle("GET /accounts", wrap(s.handleList))
	mux.Handle("POST /accounts/import", wrap(s.handleImport))
	mux.Handle("GET /accounts/{id}", wrap(s.handleGet))
	mux.Handle("DELETE /accounts/{id}", wrap(s.handleDelete))
	mux.Handle("POST /accounts/{id}/refresh", wrap(s.handleRefresh))
	s.mux = mux

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		// Refresh retries several times with linear backoff before answering.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
