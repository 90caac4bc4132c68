// Package db owns the SQLite schema and every statement that touches it.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/japaniel/zimdict/pkg/config"
)

// ErrDatabase wraps failures that should surface as a database error to the
// CLI exit-code mapping.
var ErrDatabase = errors.New("database error")

// Open opens (or creates) the output database, applies the tuning pragmas
// from cfg and runs pending migrations. With cfg.Overwrite the existing file
// is removed first.
func Open(path string, cfg config.SQLiteConfig) (*sql.DB, error) {
	if cfg.Overwrite && path != ":memory:" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: remove %s: %v", ErrDatabase, path, err)
		}
		os.Remove(path + "-wal")
		os.Remove(path + "-shm")
	}

	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", cfg.BusyTimeoutMs))
	params.Set("_journal_mode", strings.ToUpper(cfg.JournalMode))
	params.Set("_synchronous", strings.ToUpper(cfg.Synchronous))
	params.Set("_foreign_keys", "on")
	// Batch transactions take the write lock up front.
	params.Set("_txlock", "immediate")

	conn, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDatabase, path, err)
	}
	// Single connection: one writer, and in-memory databases stay coherent.
	conn.SetMaxOpenConns(1)

	if cfg.CacheSizeKiB > 0 {
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeKiB)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: cache_size: %v", ErrDatabase, err)
		}
	}
	if cfg.TempStore != "" {
		if _, err := conn.Exec("PRAGMA temp_store = " + strings.ToUpper(cfg.TempStore)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: temp_store: %v", ErrDatabase, err)
		}
	}

	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// OpenExisting opens a database without overwriting and without migrating,
// for read-only commands against an already-built file.
func OpenExisting(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	conn, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDatabase, path, err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// IsConstraintErr reports whether err is a SQLite constraint violation, the
// class of error the writer quarantines instead of aborting on.
func IsConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}
