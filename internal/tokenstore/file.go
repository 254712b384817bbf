package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the session in a single owner-only file.
type FileStore struct {
	filePath string
}

var _ TokenStore = (*FileStore)(nil)

// NewFileStore creates a FileStore, creating parent directories with 0700.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		filePath: filePath,
	}, nil
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.filePath }

// Read returns the stored value. Files readable by group or others are rejected.
func (f *FileStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s does not exist", ErrNoSession, f.filePath)
	}
	if err != nil {
		return "", err
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoSession, f.filePath)
	}
	return value, nil
}

// Write replaces the file atomically with mode 0600.
func (f *FileStore) Write(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(f.filePath), "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.WriteString(strings.TrimSpace(value) + "\n"); err != nil {
		return err
	}
	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempName, f.filePath)
}

// Clear deletes the file.
func (f *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
