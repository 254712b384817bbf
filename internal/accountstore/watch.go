package accountstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/florianilch/acctkeeper/internal/account"
)

const watchDebounce = 100 * time.Millisecond

// Watch calls onChange with the freshly loaded collection whenever another
// writer replaces the accounts file. Writes made through this Store are not
// reported. It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onChange func(*account.Collection, LoadOutcome)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Warn("failed to close watcher", "error", err)
		}
	}()

	// Watch the directory: atomic saves replace the file, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(s.path), err)
	}

	fire := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if s.isOwnWrite() {
				continue
			}
			c, outcome, err := s.Load()
			if err != nil {
				slog.WarnContext(ctx, "failed to reload accounts after change", "path", s.path, "error", err)
				continue
			}
			onChange(c, outcome)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "watcher error", "error", err)
		}
	}
}

func (s *Store) isOwnWrite() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return bytes.Equal(data, s.lastWritten)
}
