package db

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")

	// ErrTakeoverActive is returned when an automated reply would be logged
	// for a conversation under human takeover
	ErrTakeoverActive = errors.New("human takeover active")
)

// LeadStatus is the operator-facing triage state of a lead
type LeadStatus string

const (
	LeadNew        LeadStatus = "new"
	LeadIgnored    LeadStatus = "ignored"
	LeadContacted  LeadStatus = "contacted"
	LeadBookmarked LeadStatus = "bookmarked"
)

// Valid reports whether s is a known lead status
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadNew, LeadIgnored, LeadContacted, LeadBookmarked:
		return true
	}
	return false
}

// Lead is one distinct external content item judged commercially relevant
type Lead struct {
	ID         int64      `json:"id"`
	ExternalID string     `json:"external_id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Source     string     `json:"source"` // subreddit
	Author     string     `json:"author"`
	URL        string     `json:"url"`
	Score      float64    `json:"score"`
	Status     LeadStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ConversationStatus is the state of the per-participant state machine
type ConversationStatus string

const (
	StatusNew       ConversationStatus = "new"
	StatusEngaged   ConversationStatus = "engaged"
	StatusQualified ConversationStatus = "qualified"
	StatusClosed    ConversationStatus = "closed"
)

// CanTransition reports whether a conversation may move from s to next.
// NEW -> ENGAGED -> {QUALIFIED, CLOSED}; staying put is always allowed.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusNew:
		return next == StatusEngaged
	case StatusEngaged:
		return next == StatusQualified || next == StatusClosed
	case StatusQualified:
		return next == StatusClosed
	}
	return false
}

// Conversation is the full exchange history with one participant handle
type Conversation struct {
	ID             int64              `json:"id"`
	Handle         string             `json:"handle"`
	Status         ConversationStatus `json:"status"`
	HumanTakeover  bool               `json:"human_takeover"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	Notes          string             `json:"notes"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single entry of a conversation log
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	ExternalID     string    `json:"external_id,omitempty"` // inbound message id, user entries only
	CreatedAt      time.Time `json:"created_at"`
}

// SystemLog is one entry of the append-only failure log
type SystemLog struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
