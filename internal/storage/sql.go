package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"

	"github.com/xtxerr/cfgsync/config"
	"github.com/xtxerr/cfgsync/internal/document"
	"github.com/xtxerr/cfgsync/internal/errors"
)

// =============================================================================
// SQL Storage Configuration
// =============================================================================

// SQLConfig holds SQL store configuration options.
type SQLConfig struct {
	// Driver is the database/sql driver name: "duckdb" or "sqlite".
	Driver string

	// DSN is the database connection string.
	DSN string

	// Table holds one row per configuration object.
	Table string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// QueryTimeout is the default timeout for queries.
	QueryTimeout time.Duration
}

// DefaultSQLConfig returns a SQLConfig with sensible defaults.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Driver:          config.DefaultSQLDriver,
		DSN:             config.DefaultSQLDSN,
		Table:           config.DefaultSQLTable,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		QueryTimeout:    config.DefaultQueryTimeoutSec * time.Second,
	}
}

// SupportedDrivers lists the accepted SQLConfig.Driver values.
var SupportedDrivers = []string{"duckdb", "sqlite"}

// =============================================================================
// SQL Storage
// =============================================================================

// SQLStorage keeps configuration rows in a relational table. Documents are
// stored as JSON with sorted keys.
//
// SQLStorage is safe for concurrent use.
type SQLStorage struct {
	db     *sql.DB
	config SQLConfig
	mu     sync.RWMutex
	closed bool
}

// NewSQLStorage opens the database and ensures the table exists.
func NewSQLStorage(cfg SQLConfig) (*SQLStorage, error) {
	if !isSupportedDriver(cfg.Driver) {
		return nil, errors.NewInvalidValue("driver", cfg.Driver, "must be duckdb or sqlite")
	}
	if cfg.Table == "" {
		cfg.Table = config.DefaultSQLTable
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = config.DefaultQueryTimeoutSec * time.Second
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStorage{db: db, config: cfg}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStorage) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			collection VARCHAR NOT NULL,
			name       VARCHAR NOT NULL,
			data       VARCHAR NOT NULL,
			PRIMARY KEY (collection, name)
		)`, s.config.Table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.config.Table, err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name     VARCHAR NOT NULL PRIMARY KEY,
			owner    VARCHAR NOT NULL,
			acquired BIGINT  NOT NULL
		)`, s.lockTable()))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.lockTable(), err)
	}
	return nil
}

// Close closes the store.
func (s *SQLStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

func (s *SQLStorage) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, nil, errors.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	return ctx, cancel, nil
}

// List implements Storage.
func (s *SQLStorage) List(ctx context.Context, collection string) ([]string, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT name FROM %s WHERE collection = ? ORDER BY name`, s.config.Table),
		collection)
	if err != nil {
		return nil, errors.StorageError("list", collection, "", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.StorageError("list", collection, "", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("list", collection, "", err)
	}

	// Collation differs between drivers.
	sort.Strings(names)
	return names, nil
}

// Read implements Storage.
func (s *SQLStorage) Read(ctx context.Context, collection, name string) (map[string]any, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var raw string
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE collection = ? AND name = ?`, s.config.Table),
		collection, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StorageError("read", collection, name, err)
	}

	v, err := oj.ParseString(raw)
	if err != nil {
		return nil, errors.StorageError("decode", collection, name, err)
	}
	data, ok := v.(map[string]any)
	if !ok {
		return nil, errors.StorageError("decode", collection, name,
			fmt.Errorf("stored document is %T, not an object", v))
	}
	return data, nil
}

// Exists implements Storage.
func (s *SQLStorage) Exists(ctx context.Context, collection, name string) (bool, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	var n int
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE collection = ? AND name = ?`, s.config.Table),
		collection, name).Scan(&n)
	if err != nil {
		return false, errors.StorageError("exists", collection, name, err)
	}
	return n > 0, nil
}

// Write implements Storage.
func (s *SQLStorage) Write(ctx context.Context, collection, name string, data map[string]any) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	raw, err := oj.Marshal(document.Canonical(data), &ojg.Options{Sort: true})
	if err != nil {
		return errors.StorageError("encode", collection, name, err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (collection, name, data) VALUES (?, ?, ?)
		ON CONFLICT (collection, name) DO UPDATE SET data = excluded.data`, s.config.Table),
		collection, name, string(raw))
	if err != nil {
		return errors.StorageError("write", collection, name, err)
	}
	return nil
}

// Delete implements Storage.
func (s *SQLStorage) Delete(ctx context.Context, collection, name string) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE collection = ? AND name = ?`, s.config.Table),
		collection, name)
	if err != nil {
		return errors.StorageError("delete", collection, name, err)
	}
	return nil
}

// Collections implements Storage.
func (s *SQLStorage) Collections(ctx context.Context) ([]string, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT collection FROM %s WHERE collection <> ''`, s.config.Table))
	if err != nil {
		return nil, errors.StorageError("list collections", "", "", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, errors.StorageError("list collections", "", "", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("list collections", "", "", err)
	}
	sort.Strings(out)
	return out, nil
}

// TransactionContext executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back.
func (s *SQLStorage) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Replace atomically replaces every object of collection with objects.
// It implements Replacer.
func (s *SQLStorage) Replace(ctx context.Context, collection string, objects map[string]map[string]any) error {
	return s.TransactionContext(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE collection = ?`, s.config.Table), collection); err != nil {
			return errors.StorageError("replace", collection, "", err)
		}
		for name, data := range objects {
			raw, err := oj.Marshal(document.Canonical(data), &ojg.Options{Sort: true})
			if err != nil {
				return errors.StorageError("encode", collection, name, err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %s (collection, name, data) VALUES (?, ?, ?)`, s.config.Table),
				collection, name, string(raw)); err != nil {
				return errors.StorageError("replace", collection, name, err)
			}
		}
		return nil
	})
}

// String returns a description of the store for log output.
func (s *SQLStorage) String() string {
	return fmt.Sprintf("sql(%s)", s.config.Driver)
}

func isSupportedDriver(driver string) bool {
	for _, d := range SupportedDrivers {
		if d == driver {
			return true
		}
	}
	return false
}
