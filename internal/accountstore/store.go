package accountstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/florianilch/acctkeeper/internal/account"
	"github.com/florianilch/acctkeeper/internal/jwtclaims"
)

// ErrNotFound is returned when no account matches the requested id.
var ErrNotFound = errors.New("account not found")

const (
	defaultDirName  = ".verdent_accounts"
	defaultFileName = "accounts.json"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides how ids are assigned to new records.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// Store is a file-backed account collection.
type Store struct {
	path string

	// mu serializes writers within this process.
	mu sync.Mutex

	now   func() time.Time
	newID func() string

	// lastWritten holds the bytes of our most recent write so Watch can tell
	// our own renames from external edits.
	lastWritten []byte
	lastMu      sync.Mutex
}

// DefaultPath returns ~/.verdent_accounts/accounts.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, defaultDirName, defaultFileName), nil
}

// OpenDefault opens the store at DefaultPath.
func OpenDefault(opts ...Option) (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path, opts...)
}

// Open creates the parent directory (0700) if needed and writes an empty
// collection when the primary file does not exist yet.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path cannot be empty")
	}

	s := &Store{
		path:  filepath.Clean(path),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		if err := s.writeAtomic(s.path, s.tempPath(), account.NewCollection(s.now())); err != nil {
			return nil, fmt.Errorf("initializing accounts file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking accounts file: %w", err)
	}

	return s, nil
}

// Path returns the primary file path.
func (s *Store) Path() string { return s.path }

func (s *Store) siblingPath(ext string) string {
	return strings.TrimSuffix(s.path, filepath.Ext(s.path)) + ext
}

func (s *Store) tempPath() string   { return s.siblingPath(".tmp") }
func (s *Store) backupPath() string { return s.siblingPath(".bak") }

// Load reads the collection. A parse failure is repaired from the backup or
// reset to empty, and the returned outcome says which happened. Only I/O
// errors on the primary file are returned.
func (s *Store) Load() (*account.Collection, LoadOutcome, error) {
	c, err := s.readPrimary()
	if err == nil {
		return c, LoadClean, nil
	}

	var perr *parseError
	if !errors.As(err, &perr) {
		return nil, LoadClean, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoverLocked()
}

// loadLocked is Load for callers that already hold mu.
func (s *Store) loadLocked() (*account.Collection, error) {
	c, err := s.readPrimary()
	if err == nil {
		return c, nil
	}

	var perr *parseError
	if !errors.As(err, &perr) {
		return nil, err
	}

	c, _, err = s.recoverLocked()
	return c, err
}

// Save persists c under the store's mutex.
func (s *Store) Save(c *account.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(c)
}

func (s *Store) saveLocked(c *account.Collection) error {
	// Best effort: a failed backup never blocks the save.
	if data, err := os.ReadFile(s.path); err == nil {
		if err := writeFileAtomic(s.backupPath(), s.backupPath()+".tmp", data); err != nil {
			slog.Warn("failed to back up accounts file", "path", s.backupPath(), "error", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read accounts file for backup", "path", s.path, "error", err)
	}

	if err := s.writeAtomic(s.path, s.tempPath(), c); err != nil {
		return err
	}

	s.verify(c)
	return nil
}

// verify re-reads the primary after a write and logs any disagreement.
func (s *Store) verify(want *account.Collection) {
	got, err := s.readPrimary()
	if err != nil {
		slog.Error("accounts file unreadable after save", "path", s.path, "error", err)
		return
	}
	if len(got.Accounts) != len(want.Accounts) || got.LastSync != want.LastSync {
		slog.Error("accounts file does not match what was saved",
			"path", s.path, "want_accounts", len(want.Accounts), "got_accounts", len(got.Accounts))
	}
}

func (s *Store) writeAtomic(target, tmp string, c *account.Collection) error {
	if c.Accounts == nil {
		c.Accounts = []account.Record{}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding accounts: %w", err)
	}
	if err := writeFileAtomic(target, tmp, data); err != nil {
		return err
	}

	s.lastMu.Lock()
	s.lastWritten = data
	s.lastMu.Unlock()
	return nil
}

// writeFileAtomic writes data to tmp, flushes it, and renames it over target.
func writeFileAtomic(target, tmp string, data []byte) (err error) {
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("flushing temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(target), err)
	}

	syncDir(filepath.Dir(target))
	return nil
}

// syncDir flushes the directory entry for a rename. Not every platform
// supports fsync on directories, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// parseError marks a document that was read but could not be decoded.
type parseError struct {
	path string
	err  error
}

func (e *parseError) Error() string { return fmt.Sprintf("parsing %s: %v", e.path, e.err) }

func (e *parseError) Unwrap() error { return e.err }

func (s *Store) readPrimary() (*account.Collection, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return account.NewCollection(s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	return decode(s.path, data)
}

func decode(path string, data []byte) (*account.Collection, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &parseError{path: path, err: errors.New("empty document")}
	}
	var c account.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &parseError{path: path, err: err}
	}
	if c.Accounts == nil {
		c.Accounts = []account.Record{}
	}
	return &c, nil
}

// mutate runs the load-modify-save cycle under the mutex. fn returning an
// error aborts without writing.
func (s *Store) mutate(fn func(c *account.Collection, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.loadLocked()
	if err != nil {
		return err
	}
	now := s.now()
	if err := fn(c, now); err != nil {
		return err
	}
	c.LastSync = account.Timestamp(now)
	return s.saveLocked(c)
}

// List returns every record in file order.
func (s *Store) List() ([]account.Record, error) {
	c, _, err := s.Load()
	if err != nil {
		return nil, err
	}
	return c.Accounts, nil
}

// Get returns the record with id.
func (s *Store) Get(id string) (account.Record, error) {
	c, _, err := s.Load()
	if err != nil {
		return account.Record{}, err
	}
	i := c.Index(id)
	if i < 0 {
		return account.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Accounts[i], nil
}

// FindByEmail returns the first record with email.
func (s *Store) FindByEmail(email string) (account.Record, error) {
	c, _, err := s.Load()
	if err != nil {
		return account.Record{}, err
	}
	i := c.IndexByEmail(email)
	if i < 0 {
		return account.Record{}, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	return c.Accounts[i], nil
}

// Add appends r, assigning an id when r has none, and returns the stored record.
func (s *Store) Add(r account.Record) (account.Record, error) {
	err := s.mutate(func(c *account.Collection, now time.Time) error {
		if r.ID == "" {
			r.ID = s.newID()
		}
		if c.Index(r.ID) >= 0 {
			return fmt.Errorf("account id %s already exists", r.ID)
		}
		r.Touch(now)
		c.Accounts = append(c.Accounts, r)
		return nil
	})
	if err != nil {
		return account.Record{}, err
	}
	return r, nil
}

// Update replaces the record with id by r. The id is preserved.
func (s *Store) Update(id string, r account.Record) (account.Record, error) {
	return s.Modify(id, func(existing *account.Record, _ time.Time) {
		*existing = r
		existing.ID = id
	})
}

// UpdateToken sets the token and its derived expiry.
func (s *Store) UpdateToken(id, token string) (account.Record, error) {
	return s.Modify(id, func(existing *account.Record, _ time.Time) {
		existing.SetToken(token, jwtclaims.ExtractExpiry)
	})
}

// UpdateQuota sets remaining and total; used is left as it is.
func (s *Store) UpdateQuota(id string, remaining, total decimal.Decimal) (account.Record, error) {
	return s.Modify(id, func(existing *account.Record, _ time.Time) {
		existing.QuotaRemaining = account.QuotaFromDecimal(remaining)
		existing.QuotaTotal = account.QuotaFromDecimal(total)
	})
}

// Modify applies fn to the record with id inside one locked load-modify-save
// cycle and returns the stored result. fn must not call other Store methods.
func (s *Store) Modify(id string, fn func(r *account.Record, now time.Time)) (account.Record, error) {
	var updated account.Record
	err := s.mutate(func(c *account.Collection, now time.Time) error {
		i := c.Index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		fn(&c.Accounts[i], now)
		c.Accounts[i].Touch(now)
		updated = c.Accounts[i]
		return nil
	})
	if err != nil {
		return account.Record{}, err
	}
	return updated, nil
}

// UpsertByEmail applies fn to the first record with email, or to a new active
// record appended with a fresh id and register_time. created reports which.
func (s *Store) UpsertByEmail(email string, fn func(r *account.Record, now time.Time)) (_ account.Record, created bool, _ error) {
	var stored account.Record
	err := s.mutate(func(c *account.Collection, now time.Time) error {
		i := c.IndexByEmail(email)
		if i < 0 {
			created = true
			c.Accounts = append(c.Accounts, account.Record{
				ID:           s.newID(),
				Email:        email,
				Status:       account.StatusActive,
				RegisterTime: account.Timestamp(now),
			})
			i = len(c.Accounts) - 1
		}
		fn(&c.Accounts[i], now)
		c.Accounts[i].Touch(now)
		stored = c.Accounts[i]
		return nil
	})
	if err != nil {
		return account.Record{}, false, err
	}
	return stored, created, nil
}

// Delete removes every record with id.
func (s *Store) Delete(id string) error {
	return s.mutate(func(c *account.Collection, _ time.Time) error {
		kept := c.Accounts[:0]
		for _, r := range c.Accounts {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		if len(kept) == len(c.Accounts) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		c.Accounts = kept
		return nil
	})
}
