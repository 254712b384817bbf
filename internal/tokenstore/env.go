package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrReadOnly is returned by backends that cannot be written.
var ErrReadOnly = errors.New("session storage is read-only")

// EnvStore reads the session from an environment variable.
type EnvStore struct {
	envKey string
}

var _ TokenStore = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for envKey. The variable must be set.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	if _, exists := os.LookupEnv(envKey); !exists {
		return nil, fmt.Errorf("environment variable %s not set", envKey)
	}

	return &EnvStore{
		envKey: envKey,
	}, nil
}

func (e *EnvStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value := os.Getenv(e.envKey)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s is empty", ErrNoSession, e.envKey)
	}
	return value, nil
}

func (e *EnvStore) Write(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.envKey)
}

func (e *EnvStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.envKey)
}
