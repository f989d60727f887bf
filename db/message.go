package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// appendTx inserts one log entry inside tx. last_activity_at is never older
// than the conversation or any entry, so clamping to it keeps the log from
// going backwards.
func appendTx(ctx context.Context, tx *sql.Tx, conversationID int64, role, content, externalID string, ts time.Time) (*Message, error) {
	var last int64
	if err := tx.QueryRowContext(ctx,
		"SELECT last_activity_at FROM conversations WHERE id = ?", conversationID,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read last activity: %w", err)
	}
	at := toUnix(ts)
	if at < last {
		at = last
	}

	result, err := tx.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, role, content, external_id, created_at) VALUES (?, ?, ?, ?, ?)",
		conversationID, role, content, externalID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message ID: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET last_activity_at = MAX(last_activity_at, ?) WHERE id = ?",
		at, conversationID,
	); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ExternalID:     externalID,
		CreatedAt:      fromUnix(at),
	}, nil
}

// takeoverTx reports the takeover flag of a conversation as seen inside tx
func takeoverTx(ctx context.Context, tx *sql.Tx, conversationID int64) (bool, error) {
	var takeover int
	err := tx.QueryRowContext(ctx, "SELECT human_takeover FROM conversations WHERE id = ?", conversationID).Scan(&takeover)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up conversation: %w", err)
	}
	return takeover != 0, nil
}

// AppendMessage appends a single entry to a conversation log. externalID is
// the upstream id of an inbound user message and may be empty.
func (db *DB) AppendMessage(ctx context.Context, conversationID int64, role, content, externalID string, ts time.Time) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("invalid message role %q", role)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := takeoverTx(ctx, tx, conversationID); err != nil {
		return nil, err
	}
	msg, err := appendTx(ctx, tx, conversationID, role, content, externalID, ts)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// AppendExchange atomically appends a user entry immediately followed by the
// assistant reply to it, and advances a NEW conversation to ENGAGED. Nothing
// is appended and ErrTakeoverActive is returned if takeover is on.
func (db *DB) AppendExchange(ctx context.Context, conversationID int64, externalID, userContent, assistantContent string, ts time.Time) ([]*Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	takeover, err := takeoverTx(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if takeover {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrTakeoverActive)
	}
	userMsg, err := appendTx(ctx, tx, conversationID, RoleUser, userContent, externalID, ts)
	if err != nil {
		return nil, err
	}
	reply, err := appendTx(ctx, tx, conversationID, RoleAssistant, assistantContent, "", userMsg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET status = ? WHERE id = ? AND status = ?",
		string(StatusEngaged), conversationID, string(StatusNew),
	); err != nil {
		return nil, fmt.Errorf("failed to advance status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit exchange: %w", err)
	}
	return []*Message{userMsg, reply}, nil
}

// HasInboundMessage reports whether an inbound message with the upstream id
// has already been recorded in any conversation.
func (db *DB) HasInboundMessage(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE external_id = ?", externalID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return n > 0, nil
}

// ListMessages retrieves the log of a conversation in append order
func (db *DB) ListMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, external_id, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC",
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			msg       Message
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.ExternalID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = fromUnix(createdAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}
