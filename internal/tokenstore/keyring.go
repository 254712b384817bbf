package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the session in the OS credential store, one entry per
// service and user.
type KeyringStore struct {
	service string
	user    string
}

var _ TokenStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the given service and user.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	switch {
	case service == "":
		return nil, fmt.Errorf("keyring service cannot be empty")
	case user == "":
		return nil, fmt.Errorf("keyring user cannot be empty")
	}
	return &KeyringStore{service: service, user: user}, nil
}

func (k *KeyringStore) entry() string { return k.service + "/" + k.user }

func (k *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, err := keyring.Get(k.service, k.user)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", fmt.Errorf("%w: keyring entry %s", ErrNoSession, k.entry())
	case err != nil:
		return "", fmt.Errorf("reading keyring entry %s: %w", k.entry(), err)
	case value == "":
		return "", fmt.Errorf("%w: keyring entry %s is empty", ErrNoSession, k.entry())
	}
	return value, nil
}

func (k *KeyringStore) Write(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := keyring.Set(k.service, k.user, value)
	if errors.Is(err, keyring.ErrSetDataTooBig) {
		// macOS and Windows cap entry sizes; the session JSON carries a full JWT.
		return fmt.Errorf("session too large for keyring entry %s (%d bytes), use file storage: %w",
			k.entry(), len(value), err)
	}
	if err != nil {
		return fmt.Errorf("writing keyring entry %s: %w", k.entry(), err)
	}
	return nil
}

func (k *KeyringStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Delete(k.service, k.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting keyring entry %s: %w", k.entry(), err)
	}
	return nil
}
