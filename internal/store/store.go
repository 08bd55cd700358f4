// Package store persists devices and pending payments in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"lnurldevice/internal/lnurldevice"
)

// DB wraps sql.DB with our application queries.
type DB struct {
	*sql.DB
}

var _ lnurldevice.Store = (*DB)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// SQLite handles one writer at a time; serialise writes in the app layer.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.createSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return db, nil
}

func (db *DB) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL,
			wallet         TEXT NOT NULL,
			currency       TEXT NOT NULL,
			kind           TEXT NOT NULL,
			encryption_key TEXT NOT NULL,
			profit         TEXT NOT NULL DEFAULT '0',
			switches       TEXT NOT NULL DEFAULT '[]',
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pending_payments (
			id          TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			kind        TEXT NOT NULL,
			payload     TEXT NOT NULL,
			amount_msat INTEGER NOT NULL,
			pin         INTEGER,
			redemption  TEXT,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_payments_device ON pending_payments(device_id)`,
		// One withdrawal per ATM token.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_payments_withdrawal
			ON pending_payments(device_id, payload) WHERE kind = 'atm'`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			n := len(s)
			if n > 40 {
				n = 40
			}
			return fmt.Errorf("exec %q: %w", s[:n], err)
		}
	}
	return nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, lnurldevice.ErrNotFound)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
