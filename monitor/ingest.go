package monitor

import (
	"context"
	"fmt"

	"leadpilot/db"
	"leadpilot/metrics"
	"leadpilot/notify"
	"leadpilot/utils"
)

// Ingestion results
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
)

// IngestResult reports whether a lead was newly stored
type IngestResult struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// Ingestor scores, stores and announces leads. It is shared by the source
// poller and the collector endpoint.
type Ingestor struct {
	store    LeadStore
	scorer   Scorer
	fallback float64
	notifier notify.Notifier
	logger   *utils.Logger
	metrics  *metrics.Metrics
}

// NewIngestor creates an ingestor. A nil scorer or notifier is replaced by
// the fixed scorer and the no-op notifier.
func NewIngestor(store LeadStore, scorer Scorer, notifier notify.Notifier, logger *utils.Logger, m *metrics.Metrics) *Ingestor {
	if scorer == nil {
		scorer = FixedScorer{Value: DefaultScore}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	fallback := float64(DefaultScore)
	if d, ok := scorer.(interface{ Default() float64 }); ok {
		fallback = d.Default()
	}
	return &Ingestor{
		store:    store,
		scorer:   scorer,
		fallback: fallback,
		notifier: notifier,
		logger:   logger.Named("monitor"),
		metrics:  m,
	}
}

// Ingest scores and stores lead. An already known external id is skipped
// without scoring.
func (in *Ingestor) Ingest(ctx context.Context, lead *db.Lead) (IngestResult, error) {
	return in.ingest(ctx, lead, true)
}

// IngestScored stores lead with the score it already carries
func (in *Ingestor) IngestScored(ctx context.Context, lead *db.Lead) (IngestResult, error) {
	return in.ingest(ctx, lead, false)
}

func (in *Ingestor) ingest(ctx context.Context, lead *db.Lead, score bool) (IngestResult, error) {
	if lead.ExternalID == "" {
		return IngestResult{}, fmt.Errorf("lead has no external id")
	}
	result := IngestResult{Status: StatusSkipped, ID: lead.ExternalID}

	exists, err := in.store.LeadExists(ctx, lead.ExternalID)
	if err != nil {
		return IngestResult{}, err
	}
	if exists {
		in.metrics.RecordLead(StatusSkipped)
		return result, nil
	}

	if score {
		lead.Score = in.score(ctx, lead)
	}

	// a concurrent ingest of the same id may have won since the check
	inserted, err := in.store.UpsertLead(ctx, lead)
	if err != nil {
		return IngestResult{}, err
	}
	if !inserted {
		in.metrics.RecordLead(StatusSkipped)
		return result, nil
	}

	in.logger.Info("New lead %s in r/%s (score %g): %s", lead.ExternalID, lead.Source, lead.Score, lead.Title)
	in.metrics.RecordLead(StatusSuccess)
	in.notifier.Notify(ctx, notify.KindLead, notify.Payload{
		Source: lead.Source,
		Title:  lead.Title,
		URL:    lead.URL,
		Score:  lead.Score,
	})

	result.Status = StatusSuccess
	return result, nil
}

func (in *Ingestor) score(ctx context.Context, lead *db.Lead) float64 {
	var s Score
	err := utils.SafeCall("scorer", func() error {
		var scoreErr error
		s, scoreErr = in.scorer.Score(ctx, lead)
		return scoreErr
	})
	if err != nil {
		in.logger.Warn("Scoring %s failed, using default %g: %v", lead.ExternalID, in.fallback, err)
		return in.fallback
	}
	if s.Intent != "" {
		in.logger.Debug("Lead %s scored %g (%s): %s", lead.ExternalID, s.Value, s.Intent, s.Reasoning)
	}
	return s.Value
}
