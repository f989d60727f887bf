package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertLead inserts lead unless a lead with the same external id already
// exists. A duplicate is a no-op and reports inserted=false. On insert the
// lead's ID, Status and CreatedAt are filled in.
func (db *DB) UpsertLead(ctx context.Context, lead *Lead) (bool, error) {
	if lead.ExternalID == "" {
		return false, fmt.Errorf("lead external id is required")
	}
	status := lead.Status
	if status == "" {
		status = LeadNew
	}
	if !status.Valid() {
		return false, fmt.Errorf("invalid lead status %q", status)
	}
	createdAt := db.now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO leads (external_id, title, body, source, author, url, score, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		lead.ExternalID, lead.Title, lead.Body, lead.Source, lead.Author, lead.URL, lead.Score, string(status), toUnix(createdAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert lead: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get lead ID: %w", err)
	}
	lead.ID = id
	lead.Status = status
	lead.CreatedAt = createdAt
	return true, nil
}

// LeadExists reports whether a lead with the external id is stored
func (db *DB) LeadExists(ctx context.Context, externalID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM leads WHERE external_id = ?", externalID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check lead: %w", err)
	}
	return n > 0, nil
}

const leadColumns = "id, external_id, title, body, source, author, url, score, status, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*Lead, error) {
	var (
		lead      Lead
		status    string
		createdAt int64
	)
	if err := row.Scan(&lead.ID, &lead.ExternalID, &lead.Title, &lead.Body, &lead.Source, &lead.Author, &lead.URL, &lead.Score, &status, &createdAt); err != nil {
		return nil, err
	}
	lead.Status = LeadStatus(status)
	lead.CreatedAt = fromUnix(createdAt)
	return &lead, nil
}

// GetLead retrieves a lead by external id
func (db *DB) GetLead(ctx context.Context, externalID string) (*Lead, error) {
	lead, err := scanLead(db.conn.QueryRowContext(ctx,
		"SELECT "+leadColumns+" FROM leads WHERE external_id = ?", externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

// ListLeads retrieves leads, newest first. An empty status lists all.
func (db *DB) ListLeads(ctx context.Context, status LeadStatus, limit, offset int) ([]*Lead, error) {
	query := "SELECT " + leadColumns + " FROM leads"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// UpdateLeadStatus sets the triage status of a lead
func (db *DB) UpdateLeadStatus(ctx context.Context, externalID string, status LeadStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid lead status %q", status)
	}
	result, err := db.conn.ExecContext(ctx, "UPDATE leads SET status = ? WHERE external_id = ?", string(status), externalID)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("lead %s: %w", externalID, ErrNotFound)
	}
	return nil
}
