package monitor

import (
	"context"
	"fmt"
	"strings"

	"leadpilot/utils"
)

// Poller fetches new items from the watched sources and ingests the
// relevant ones
type Poller struct {
	feed     Feed
	ingestor *Ingestor
	sources  []string
	keywords []string
	limit    int
	logger   *utils.Logger
}

// NewPoller creates a source poller
func NewPoller(feed Feed, ingestor *Ingestor, cfg utils.MonitorConfig, logger *utils.Logger) *Poller {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	limit := cfg.FetchLimit
	if limit <= 0 {
		limit = 20
	}
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Poller{
		feed:     feed,
		ingestor: ingestor,
		sources:  cfg.Subreddits,
		keywords: keywords,
		limit:    limit,
		logger:   logger.Named("monitor"),
	}
}

// Relevant reports whether any keyword occurs in the item's title or body,
// ignoring case
func (p *Poller) Relevant(it Item) bool {
	text := strings.ToLower(it.Title + " " + it.Body)
	for _, k := range p.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Poll runs one pass over the sources and returns the number of new leads
// stored. Each lead is committed on its own, so leads stored before an error
// stay stored.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if len(p.sources) == 0 {
		p.logger.Debug("No sources configured, nothing to poll")
		return 0, nil
	}

	items, err := p.feed.FetchNewItems(ctx, p.sources, p.limit)
	if err != nil {
		return 0, fmt.Errorf("fetch new items: %w", err)
	}

	added := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		if !p.Relevant(it) {
			continue
		}
		res, err := p.ingestor.Ingest(ctx, it.Lead())
		if err != nil {
			return added, fmt.Errorf("ingest %s: %w", it.ExternalID, err)
		}
		if res.Status == StatusSuccess {
			added++
		}
	}

	p.logger.Debug("Checked %d item(s) from %d source(s), %d new lead(s)", len(items), len(p.sources), added)
	return added, nil
}
