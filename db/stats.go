package db

import (
	"context"
	"fmt"
)

// DBStats represents database statistics
type DBStats struct {
	LeadsByStatus         map[LeadStatus]int64
	ConversationsByStatus map[ConversationStatus]int64
	TakeoverCount         int64
	MessageCount          int64
	SystemLogCount        int64
	DBSizeBytes           int64
}

// TotalLeads sums leads across statuses
func (s *DBStats) TotalLeads() int64 {
	var total int64
	for _, n := range s.LeadsByStatus {
		total += n
	}
	return total
}

// GetStats returns database statistics
func (db *DB) GetStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{
		LeadsByStatus:         make(map[LeadStatus]int64),
		ConversationsByStatus: make(map[ConversationStatus]int64),
	}

	if err := db.groupCount(ctx, "SELECT status, COUNT(*) FROM leads GROUP BY status", func(k string, n int64) {
		stats.LeadsByStatus[LeadStatus(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to count leads: %w", err)
	}

	if err := db.groupCount(ctx, "SELECT status, COUNT(*) FROM conversations GROUP BY status", func(k string, n int64) {
		stats.ConversationsByStatus[ConversationStatus(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM conversations WHERE human_takeover = 1", &stats.TakeoverCount},
		{"SELECT COUNT(*) FROM messages", &stats.MessageCount},
		{"SELECT COUNT(*) FROM system_logs", &stats.SystemLogCount},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to run %q: %w", c.query, err)
		}
	}

	// Get database size (page_count * page_size)
	var pageCount, pageSize int64
	if err := db.conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to get page size: %w", err)
	}
	stats.DBSizeBytes = pageCount * pageSize

	return stats, nil
}

func (db *DB) groupCount(ctx context.Context, query string, fn func(key string, n int64)) error {
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}
