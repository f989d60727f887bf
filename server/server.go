// Package server exposes the collector and operator HTTP surface
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"leadpilot/db"
	"leadpilot/metrics"
	"leadpilot/monitor"
	"leadpilot/utils"
)

// Store is the read side the operator endpoints need
type Store interface {
	Ping(ctx context.Context) error
	ListLeads(ctx context.Context, status db.LeadStatus, limit, offset int) ([]*db.Lead, error)
	ListConversations(ctx context.Context, limit, offset int) ([]*db.Conversation, error)
	GetConversation(ctx context.Context, handle string) (*db.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*db.Message, error)
	ListSystemLogs(ctx context.Context, component string, limit int) ([]*db.SystemLog, error)
}

// LeadIngestor stores leads pushed by an external collector
type LeadIngestor interface {
	Ingest(ctx context.Context, lead *db.Lead) (monitor.IngestResult, error)
	IngestScored(ctx context.Context, lead *db.Lead) (monitor.IngestResult, error)
}

// TakeoverSetter toggles human takeover for a participant
type TakeoverSetter interface {
	SetTakeover(ctx context.Context, handle string, enabled bool) (*db.Conversation, error)
}

// Server serves the HTTP API
type Server struct {
	httpServer *http.Server
	store      Store
	ingestor   LeadIngestor
	takeover   TakeoverSetter
	metrics    *metrics.Metrics
	logger     *utils.Logger
}

// New creates a server listening on addr. m may be nil, in which case
// /metrics is not served.
func New(addr string, store Store, ingestor LeadIngestor, takeover TakeoverSetter, m *metrics.Metrics, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &Server{
		store:    store,
		ingestor: ingestor,
		takeover: takeover,
		metrics:  m,
		logger:   logger.Named("server"),
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("POST /api/collector/lead", s.handleCollectLead)
	mux.HandleFunc("GET /api/leads", s.handleListLeads)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{handle}", s.handleGetConversation)
	mux.HandleFunc("POST /api/conversations/{handle}/takeover", s.handleTakeover)
	mux.HandleFunc("GET /api/logs", s.handleListLogs)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return <-errCh
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// paging reads skip/limit query parameters
func paging(r *http.Request, defLimit int) (limit, offset int, err error) {
	limit, offset = defLimit, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("skip"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid skip %q", v)
		}
	}
	return limit, offset, nil
}
