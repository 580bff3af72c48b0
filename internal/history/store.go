// Package history stores reply-engine conversation turns keyed by thread
// anchor.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/fedorgpt/internal/storage"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// Entry is one stored conversation turn.
type Entry struct {
	Role      models.Role
	Content   string
	CreatedAt time.Time
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS message_store (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_store_session ON message_store(session_id, id)`,
}

// Store is a sqlite-backed history store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New migrates db and returns a Store over it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := storage.Migrate(ctx, db, "history", migrations); err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Exists reports whether any turn is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM message_store WHERE session_id = ? LIMIT 1`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check history %s: %w", key, err)
	}
	return true, nil
}

// Load returns the last limit turns stored under key in insertion order.
// A limit of zero or less returns everything.
func (s *Store) Load(ctx context.Context, key string, limit int) ([]Entry, error) {
	query := `SELECT role, content, created_at FROM message_store WHERE session_id = ? ORDER BY id DESC`
	args := []any{key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", key, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			role string
		)
		if err := rows.Scan(&role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Role = models.Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Append stores entries under key atomically.
func (s *Store) Append(ctx context.Context, key string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO message_store (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		created := e.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		if _, err := stmt.ExecContext(ctx, key, string(e.Role), e.Content, created.UTC()); err != nil {
			return fmt.Errorf("append history %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}
