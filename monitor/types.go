// Package monitor turns new content items from watched sources into scored,
// deduplicated leads.
package monitor

import (
	"context"
	"time"

	"leadpilot/db"
)

// Item is one content item as returned by a feed, already converted out of
// the provider's own object model.
type Item struct {
	ExternalID string
	Title      string
	Body       string
	Source     string
	Author     string
	URL        string
	CreatedAt  time.Time
}

// Lead converts the item into an unscored lead
func (it Item) Lead() *db.Lead {
	return &db.Lead{
		ExternalID: it.ExternalID,
		Title:      it.Title,
		Body:       it.Body,
		Source:     it.Source,
		Author:     it.Author,
		URL:        it.URL,
	}
}

// Feed lists the newest items of a set of sources
type Feed interface {
	FetchNewItems(ctx context.Context, sources []string, limit int) ([]Item, error)
}

// LeadStore persists leads under a uniqueness constraint on the external id
type LeadStore interface {
	LeadExists(ctx context.Context, externalID string) (bool, error)
	UpsertLead(ctx context.Context, lead *db.Lead) (bool, error)
}
