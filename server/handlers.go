package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"leadpilot/db"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "leadpilot"})
}

// collectedLead is the collector payload
type collectedLead struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Subreddit string   `json:"subreddit"`
	Author    string   `json:"author"`
	URL       string   `json:"url"`
	Score     *float64 `json:"score"`
}

func (s *Server) handleCollectLead(w http.ResponseWriter, r *http.Request) {
	var in collectedLead
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(in.ID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "id is required")
		return
	}

	lead := &db.Lead{
		ExternalID: in.ID,
		Title:      in.Title,
		Body:       in.Body,
		Source:     in.Subreddit,
		Author:     in.Author,
		URL:        in.URL,
	}
	ingest := s.ingestor.Ingest
	if in.Score != nil {
		lead.Score = *in.Score
		ingest = s.ingestor.IngestScored
	}

	res, err := ingest(r.Context(), lead)
	if err != nil {
		s.logger.Error("Collector ingest of %s failed: %v", in.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to store lead")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := db.LeadStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	leads, err := s.store.ListLeads(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("List leads failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if leads == nil {
		leads = []*db.Lead{}
	}
	writeJSON(w, http.StatusOK, leads)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	convs, err := s.store.ListConversations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("List conversations failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []*db.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// conversationDetail is a conversation with its full log
type conversationDetail struct {
	*db.Conversation
	Messages []*db.Message `json:"messages"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.Context(), r.PathValue("handle"))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("Get conversation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		s.logger.Error("List messages for %s failed: %v", conv.Handle, err)
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if msgs == nil {
		msgs = []*db.Message{}
	}
	writeJSON(w, http.StatusOK, conversationDetail{Conversation: conv, Messages: msgs})
}

func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	enable, err := strconv.ParseBool(r.URL.Query().Get("enable"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "enable must be true or false")
		return
	}
	_, err = s.takeover.SetTakeover(r.Context(), r.PathValue("handle"), enable)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("Set takeover failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "human_takeover": enable})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit, _, err := paging(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := s.store.ListSystemLogs(r.Context(), r.URL.Query().Get("component"), limit)
	if err != nil {
		// not logged at error level: that would write another system log entry
		s.logger.Debug("List system logs failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []*db.SystemLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
