package accountstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/florianilch/acctkeeper/internal/account"
)

// LoadOutcome reports how Load obtained the collection.
type LoadOutcome int

const (
	// LoadClean means the primary file parsed as-is.
	LoadClean LoadOutcome = iota
	// LoadRecoveredFromBackup means the primary was corrupt and has been
	// replaced with the backup's contents.
	LoadRecoveredFromBackup
	// LoadResetEmpty means neither file was usable; an empty collection was
	// returned and the corrupt primary was quarantined.
	LoadResetEmpty
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadClean:
		return "clean"
	case LoadRecoveredFromBackup:
		return "recovered_from_backup"
	case LoadResetEmpty:
		return "reset_empty"
	default:
		return fmt.Sprintf("LoadOutcome(%d)", int(o))
	}
}

const quarantineLayout = "20060102T150405Z"

// recoverLocked handles a primary that failed to parse. Callers hold mu.
func (s *Store) recoverLocked() (*account.Collection, LoadOutcome, error) {
	// Another writer may have fixed the primary while we waited for the lock.
	c, err := s.readPrimary()
	if err == nil {
		return c, LoadClean, nil
	}
	var perr *parseError
	if !errors.As(err, &perr) {
		return nil, LoadClean, err
	}
	slog.Warn("accounts file is corrupt, trying backup", "path", s.path, "error", err)

	backup, berr := s.readBackup()
	if berr == nil {
		// Write the primary directly: going through saveLocked would first
		// copy the corrupt primary over the good backup.
		if err := s.writeAtomic(s.path, s.tempPath(), backup); err != nil {
			slog.Error("failed to restore accounts file from backup", "path", s.path, "error", err)
		} else {
			slog.Info("accounts file restored from backup", "path", s.path, "accounts", len(backup.Accounts))
		}
		return backup, LoadRecoveredFromBackup, nil
	}

	slog.Error("accounts file and backup are both unreadable, starting empty",
		"path", s.path, "backup_error", berr)
	s.quarantine()
	return account.NewCollection(s.now()), LoadResetEmpty, nil
}

func (s *Store) readBackup() (*account.Collection, error) {
	data, err := os.ReadFile(s.backupPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("no backup file")
		}
		return nil, fmt.Errorf("reading backup: %w", err)
	}
	return decode(s.backupPath(), data)
}

// quarantine moves the corrupt primary aside so a later save, which backs up
// the primary first, does not erase the only copy of the data. Once moved,
// the next Load sees no primary and starts clean.
func (s *Store) quarantine() {
	dest := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format(quarantineLayout))
	if err := os.Rename(s.path, dest); err != nil {
		slog.Warn("failed to quarantine corrupt accounts file", "path", dest, "error", err)
		return
	}
	syncDir(filepath.Dir(s.path))
	slog.Warn("corrupt accounts file preserved", "path", dest)
}
