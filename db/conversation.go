package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const conversationColumns = "id, handle, status, human_takeover, last_activity_at, notes, created_at"

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv         Conversation
		status       string
		takeover     int
		lastActivity int64
		createdAt    int64
	)
	if err := row.Scan(&conv.ID, &conv.Handle, &status, &takeover, &lastActivity, &conv.Notes, &createdAt); err != nil {
		return nil, err
	}
	conv.Status = ConversationStatus(status)
	conv.HumanTakeover = takeover != 0
	conv.LastActivityAt = fromUnix(lastActivity)
	conv.CreatedAt = fromUnix(createdAt)
	return &conv, nil
}

// NormalizeHandle folds a participant handle to its canonical form. Reddit
// usernames are case-insensitive.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

// FindOrCreateConversation returns the conversation for handle, creating it
// in status NEW on first contact.
func (db *DB) FindOrCreateConversation(ctx context.Context, handle string) (*Conversation, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return nil, fmt.Errorf("conversation handle is required")
	}
	now := toUnix(db.now())
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO conversations (handle, status, human_takeover, last_activity_at, notes, created_at)
		VALUES (?, ?, 0, ?, '', ?)
		ON CONFLICT(handle) DO NOTHING`,
		handle, string(StatusNew), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return db.GetConversation(ctx, handle)
}

// GetConversation retrieves a conversation by participant handle
func (db *DB) GetConversation(ctx context.Context, handle string) (*Conversation, error) {
	handle = NormalizeHandle(handle)
	conv, err := scanConversation(db.conn.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE handle = ?", handle))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations retrieves conversations ordered by last activity
func (db *DB) ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations ORDER BY last_activity_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// SetTakeover sets or clears the human-takeover flag
func (db *DB) SetTakeover(ctx context.Context, conversationID int64, enabled bool) error {
	flag := 0
	if enabled {
		flag = 1
	}
	result, err := db.conn.ExecContext(ctx, "UPDATE conversations SET human_takeover = ? WHERE id = ?", flag, conversationID)
	if err != nil {
		return fmt.Errorf("failed to set takeover: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}
	return nil
}

// UpdateConversationStatus moves a conversation to next, rejecting transitions
// the state machine does not allow.
func (db *DB) UpdateConversationStatus(ctx context.Context, conversationID int64, next ConversationStatus) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM conversations WHERE id = ?", conversationID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read conversation status: %w", err)
	}
	if !ConversationStatus(current).CanTransition(next) {
		return fmt.Errorf("invalid status transition %s -> %s", current, next)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET status = ? WHERE id = ?", string(next), conversationID); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return tx.Commit()
}

// UpdateNotes replaces the operator notes of a conversation
func (db *DB) UpdateNotes(ctx context.Context, conversationID int64, notes string) error {
	result, err := db.conn.ExecContext(ctx, "UPDATE conversations SET notes = ? WHERE id = ?", notes, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update notes: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}
	return nil
}
