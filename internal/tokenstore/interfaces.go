package tokenstore

import (
	"context"
	"errors"
)

// ErrNoSession is returned by Read when nothing has been stored.
var ErrNoSession = errors.New("no session stored")

// TokenStore reads and writes the encoded session.
type TokenStore interface {
	// Read returns the stored value, or an error wrapping ErrNoSession when
	// the backend holds nothing.
	Read(ctx context.Context) (string, error)

	// Write persists value. Returns error if the backend is read-only.
	Write(ctx context.Context, value string) error

	// Clear removes the stored value. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
