package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendSystemLog records a failure with its severity and originating component
func (db *DB) AppendSystemLog(level, component, message string, at time.Time) error {
	if at.IsZero() {
		at = db.now()
	}
	_, err := db.conn.Exec(
		"INSERT INTO system_logs (id, level, component, message, created_at) VALUES (?, ?, ?, ?, ?)",
		uuid.NewString(), level, component, message, toUnix(at),
	)
	if err != nil {
		return fmt.Errorf("failed to write system log: %w", err)
	}
	return nil
}

// ListSystemLogs returns the most recent system log entries, newest first.
// An empty component lists all components.
func (db *DB) ListSystemLogs(ctx context.Context, component string, limit int) ([]*SystemLog, error) {
	query := "SELECT id, level, component, message, created_at FROM system_logs"
	args := []any{}
	if component != "" {
		query += " WHERE component = ?"
		args = append(args, component)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list system logs: %w", err)
	}
	defer rows.Close()

	var logs []*SystemLog
	for rows.Next() {
		var (
			entry     SystemLog
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Level, &entry.Component, &entry.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan system log: %w", err)
		}
		entry.CreatedAt = fromUnix(createdAt)
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}
