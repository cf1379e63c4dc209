package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/util"

	"github.com/xtxerr/cfgsync/internal/errors"
)

// =============================================================================
// Locker
// =============================================================================

// Locker hands out named advisory locks kept next to the data they guard.
// An import holds one for its whole duration so two imports, in this
// process or another, never interleave against one target.
//
// Acquire is re-entrant: taking a lock the owner already holds succeeds.
// Release by anyone but the owner is a no-op.
type Locker interface {
	Acquire(ctx context.Context, name, owner string) (bool, error)
	Release(ctx context.Context, name, owner string) error
	Holder(ctx context.Context, name string) (owner string, since time.Time, ok bool, err error)
}

// processLocks serves stores that keep no locks of their own.
var processLocks = NewMemoryLocks()

// LockerOf returns the lock backend of s. Stores that do not implement
// Locker share one in-process backend.
func LockerOf(s Storage) Locker {
	if l, ok := s.(Locker); ok {
		return l
	}
	return processLocks
}

// =============================================================================
// Memory
// =============================================================================

// MemoryLocks keeps locks in a map. They are visible to one process only.
//
// MemoryLocks is safe for concurrent use.
type MemoryLocks struct {
	mu   sync.Mutex
	held map[string]lockHolder
}

type lockHolder struct {
	owner    string
	acquired time.Time
}

// NewMemoryLocks creates an empty in-process lock backend.
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{held: make(map[string]lockHolder)}
}

// Acquire implements Locker.
func (l *MemoryLocks) Acquire(_ context.Context, name, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[name]; ok {
		return h.owner == owner, nil
	}
	l.held[name] = lockHolder{owner: owner, acquired: time.Now()}
	return true, nil
}

// Release implements Locker.
func (l *MemoryLocks) Release(_ context.Context, name, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[name]; ok && h.owner == owner {
		delete(l.held, name)
	}
	return nil
}

// Holder implements Locker.
func (l *MemoryLocks) Holder(_ context.Context, name string) (string, time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.held[name]
	return h.owner, h.acquired, ok, nil
}

// Acquire implements Locker.
func (s *MemoryStorage) Acquire(ctx context.Context, name, owner string) (bool, error) {
	return s.locks.Acquire(ctx, name, owner)
}

// Release implements Locker.
func (s *MemoryStorage) Release(ctx context.Context, name, owner string) error {
	return s.locks.Release(ctx, name, owner)
}

// Holder implements Locker.
func (s *MemoryStorage) Holder(ctx context.Context, name string) (string, time.Time, bool, error) {
	return s.locks.Holder(ctx, name)
}

// =============================================================================
// File
// =============================================================================

// lockDir holds lock files. It carries no .yml files, so it never shows
// up as a collection.
const lockDir = ".locks"

func lockPath(name string) string {
	return path.Join(lockDir, name+".lock")
}

// Acquire implements Locker with an exclusively created lock file holding
// "<owner>\n<unix millis>".
func (s *FileStorage) Acquire(ctx context.Context, name, owner string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.fs.MkdirAll(lockDir, 0755); err != nil {
		return false, errors.StorageError("lock", "", name, err)
	}

	f, err := s.fs.OpenFile(lockPath(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if !os.IsExist(err) {
			return false, errors.StorageError("lock", "", name, err)
		}
		holder, _, ok, err := s.Holder(ctx, name)
		if err != nil {
			return false, err
		}
		return ok && holder == owner, nil
	}

	_, werr := io.WriteString(f, fmt.Sprintf("%s\n%d\n", owner, time.Now().UnixMilli()))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		s.fs.Remove(lockPath(name))
		return false, errors.StorageError("lock", "", name, werr)
	}
	return true, nil
}

// Release implements Locker.
func (s *FileStorage) Release(ctx context.Context, name, owner string) error {
	holder, _, ok, err := s.Holder(ctx, name)
	if err != nil || !ok || holder != owner {
		return err
	}
	if err := s.fs.Remove(lockPath(name)); err != nil && !os.IsNotExist(err) {
		return errors.StorageError("unlock", "", name, err)
	}
	return nil
}

// Holder implements Locker.
func (s *FileStorage) Holder(ctx context.Context, name string) (string, time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", time.Time{}, false, err
	}

	raw, err := util.ReadFile(s.fs, lockPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, errors.StorageError("read lock", "", name, err)
	}

	lines := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)
	var since time.Time
	if len(lines) == 2 {
		if ms, err := strconv.ParseInt(lines[1], 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}
	return lines[0], since, true, nil
}

// =============================================================================
// SQL
// =============================================================================

func (s *SQLStorage) lockTable() string {
	return s.config.Table + "_lock"
}

// Acquire implements Locker. The insert is a no-op when the lock exists;
// reading the holder back in the same transaction decides the outcome.
func (s *SQLStorage) Acquire(ctx context.Context, name, owner string) (bool, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	var acquired bool
	err = s.TransactionContext(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (name, owner, acquired) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`, s.lockTable()),
			name, owner, time.Now().UnixMilli()); err != nil {
			return err
		}
		var holder string
		if err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT owner FROM %s WHERE name = ?`, s.lockTable()), name).Scan(&holder); err != nil {
			return err
		}
		acquired = holder == owner
		return nil
	})
	if err != nil {
		return false, errors.StorageError("lock", "", name, err)
	}
	return acquired, nil
}

// Release implements Locker.
func (s *SQLStorage) Release(ctx context.Context, name, owner string) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE name = ? AND owner = ?`, s.lockTable()), name, owner); err != nil {
		return errors.StorageError("unlock", "", name, err)
	}
	return nil
}

// Holder implements Locker.
func (s *SQLStorage) Holder(ctx context.Context, name string) (string, time.Time, bool, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return "", time.Time{}, false, err
	}
	defer cancel()

	var (
		owner    string
		acquired int64
	)
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT owner, acquired FROM %s WHERE name = ?`, s.lockTable()), name).Scan(&owner, &acquired)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, errors.StorageError("read lock", "", name, err)
	}
	return owner, time.UnixMilli(acquired), true, nil
}
