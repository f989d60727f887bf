// Package inbox answers direct messages on behalf of the operator and keeps
// one conversation log per participant.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/db"
	"leadpilot/knowledge"
)

// ErrDeliveryFailed is returned when a generated reply could not be sent.
// The inbound message stays unconsumed and is retried on the next poll.
var ErrDeliveryFailed = errors.New("reply delivery failed")

// Message is one inbound inbox item, converted out of the provider's own
// object model
type Message struct {
	ExternalID string
	Sender     string
	Subject    string
	Body       string
	// Direct is false for comment replies and other non-DM inbox items.
	Direct     bool
	ReceivedAt time.Time
}

// Inbox is the upstream message box
type Inbox interface {
	FetchUnread(ctx context.Context, limit int) ([]Message, error)
	MarkConsumed(ctx context.Context, msg Message) error
	Reply(ctx context.Context, msg Message, text string) error
}

// Store is the conversation persistence the handler needs
type Store interface {
	FindOrCreateConversation(ctx context.Context, handle string) (*db.Conversation, error)
	GetConversation(ctx context.Context, handle string) (*db.Conversation, error)
	SetTakeover(ctx context.Context, conversationID int64, enabled bool) error
	AppendMessage(ctx context.Context, conversationID int64, role, content, externalID string, ts time.Time) (*db.Message, error)
	AppendExchange(ctx context.Context, conversationID int64, externalID, userContent, assistantContent string, ts time.Time) ([]*db.Message, error)
	HasInboundMessage(ctx context.Context, externalID string) (bool, error)
}

// Retriever finds knowledge relevant to a message
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) []knowledge.Chunk
}

// Generator writes a reply. It must always return text.
type Generator interface {
	Generate(ctx context.Context, question string, chunks []string) string
}

// Outcome describes what happened to one inbound message
type Outcome string

const (
	OutcomeReplied        Outcome = "replied"
	OutcomeTakeover       Outcome = "takeover"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeFailed         Outcome = "failed"
)

// Footer is the compliance notice appended to every automated reply
func Footer(identity string) string {
	if identity == "" {
		return "\n\n*(This is an automated message by an AI assistant)*"
	}
	return fmt.Sprintf("\n\n*(This is an automated message by /u/%s's AI assistant)*", identity)
}
