// Package journal records every message the bot sees or sends so reply
// parents can be looked up by id later. The Bot API has no such call.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/fedorgpt/internal/storage"
	"github.com/haasonsaas/fedorgpt/pkg/models"
)

// ErrNotFound is returned when no message is recorded under the id.
var ErrNotFound = errors.New("message not found")

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS journal (
		chat_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		payload TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		PRIMARY KEY (chat_id, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_recorded ON journal(recorded_at)`,
}

// Journal is a sqlite-backed message journal.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// New migrates db and returns a Journal over it.
func New(ctx context.Context, db *sql.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := storage.Migrate(ctx, db, "journal", migrations); err != nil {
		return nil, err
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Record stores msg, replacing any earlier version (edits).
func (j *Journal) Record(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is nil")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO journal (chat_id, message_id, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		msg.ChatID, msg.ID, string(payload), j.now().UTC())
	if err != nil {
		return fmt.Errorf("record message %d:%d: %w", msg.ChatID, msg.ID, err)
	}
	return nil
}

// Get returns the message recorded under (chatID, messageID).
func (j *Journal) Get(ctx context.Context, chatID int64, messageID int) (*models.Message, error) {
	var payload string
	err := j.db.QueryRowContext(ctx,
		`SELECT payload FROM journal WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d:%d", ErrNotFound, chatID, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d:%d: %w", chatID, messageID, err)
	}

	var msg models.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("decode message %d:%d: %w", chatID, messageID, err)
	}
	return &msg, nil
}

// Prune deletes messages recorded before cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM journal WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}
