// Package sqlite is a balance.Store backed by a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/blackjack/internal/balance"
	"github.com/lox/blackjack/internal/balance/sqlite/migrations"
)

// Store persists balances and the history of every change.
type Store struct {
	db *sql.DB
}

var _ balance.Store = (*Store)(nil)

// Entry is one recorded balance change.
type Entry struct {
	Delta     int64
	Balance   int64
	CreatedAt time.Time
}

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection serializes ledger writes.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetBalance returns the balance of identity, opening the account with
// initial on first sight.
func (s *Store) GetBalance(ctx context.Context, identity string, initial int64) (int64, error) {
	if identity == "" {
		return 0, fmt.Errorf("identity is required")
	}
	now := time.Now().UTC().UnixMilli()
	if _, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO accounts (identity, balance, created_at, updated_at)
VALUES (?, ?, ?, ?)`, identity, initial, now, now); err != nil {
		return 0, fmt.Errorf("open account %s: %w", identity, err)
	}

	var bal int64
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE identity = ?`, identity).Scan(&bal); err != nil {
		return 0, fmt.Errorf("get balance %s: %w", identity, err)
	}
	return bal, nil
}

// ApplyDelta adds delta to identity's balance and appends it to the history.
func (s *Store) ApplyDelta(ctx context.Context, identity string, delta int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixMilli()
	var bal int64
	err = tx.QueryRowContext(ctx, `
UPDATE accounts SET balance = balance + ?, updated_at = ?
WHERE identity = ?
RETURNING balance`, delta, now, identity).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", balance.ErrUnknownAccount, identity)
	}
	if err != nil {
		return 0, fmt.Errorf("apply delta %s: %w", identity, err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO balance_entries (identity, delta, balance, created_at)
VALUES (?, ?, ?, ?)`, identity, delta, bal, now); err != nil {
		return 0, fmt.Errorf("record entry %s: %w", identity, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return bal, nil
}

// History lists identity's most recent balance changes, newest first.
func (s *Store) History(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT delta, balance, created_at FROM balance_entries
WHERE identity = ?
ORDER BY id DESC
LIMIT ?`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", identity, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.Delta, &e.Balance, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
