package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"leadpilot/db"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
)

// ParseExportFormat accepts "json", "markdown" or "md"
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ConversationExport represents a conversation export structure
type ConversationExport struct {
	Handle         string            `json:"handle"`
	Status         string            `json:"status"`
	HumanTakeover  bool              `json:"human_takeover"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	Messages       []MessageExport   `json:"messages"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// MessageExport represents a message export structure
type MessageExport struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TranscriptStore is the part of the database an export reads
type TranscriptStore interface {
	GetConversation(ctx context.Context, handle string) (*db.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*db.Message, error)
}

// BuildConversationExport loads the conversation for handle with its full log
func BuildConversationExport(ctx context.Context, store TranscriptStore, handle string) (*ConversationExport, error) {
	conv, err := store.GetConversation(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	messages, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	export := &ConversationExport{
		Handle:         conv.Handle,
		Status:         string(conv.Status),
		HumanTakeover:  conv.HumanTakeover,
		Notes:          conv.Notes,
		CreatedAt:      conv.CreatedAt,
		LastActivityAt: conv.LastActivityAt,
		Messages:       make([]MessageExport, 0, len(messages)),
		Metadata: map[string]string{
			"export_version": "1.0",
			"export_date":    time.Now().Format(time.RFC3339),
			"app_name":       "leadpilot",
		},
	}
	for _, msg := range messages {
		export.Messages = append(export.Messages, MessageExport{
			Role:       msg.Role,
			Content:    msg.Content,
			ExternalID: msg.ExternalID,
			CreatedAt:  msg.CreatedAt,
		})
	}
	return export, nil
}

// RenderConversation formats an export as JSON or Markdown
func RenderConversation(export *ConversationExport, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return data, nil
	case FormatMarkdown:
		return []byte(renderMarkdown(export)), nil
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

func renderMarkdown(export *ConversationExport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Conversation with u/%s\n\n", export.Handle))
	sb.WriteString(fmt.Sprintf("**Status**: %s\n", export.Status))
	if export.HumanTakeover {
		sb.WriteString("**Human takeover**: on\n")
	}
	sb.WriteString(fmt.Sprintf("**Started**: %s\n", export.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("**Last activity**: %s\n\n", export.LastActivityAt.Format("2006-01-02 15:04:05")))
	if export.Notes != "" {
		sb.WriteString(fmt.Sprintf("> %s\n\n", export.Notes))
	}
	sb.WriteString("---\n\n")

	for i, msg := range export.Messages {
		name := export.Handle
		if msg.Role == db.RoleAssistant {
			name = "assistant"
		}
		sb.WriteString(fmt.Sprintf("## %s · %s\n\n", name, msg.CreatedAt.Format("2006-01-02 15:04:05")))
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")

		// Separator (except for last message)
		if i < len(export.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}
	return sb.String()
}

// ExportConversation writes the transcript of handle to path
func ExportConversation(ctx context.Context, store TranscriptStore, handle string, format ExportFormat, path string) error {
	export, err := BuildConversationExport(ctx, store, handle)
	if err != nil {
		return err
	}
	data, err := RenderConversation(export, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// GenerateExportFilename generates a filename for export
func GenerateExportFilename(handle string, format ExportFormat) string {
	// Sanitize handle for filename
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			return '_'
		}
		return r
	}, handle)

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := string(format)
	if format == FormatMarkdown {
		ext = "md"
	}

	return fmt.Sprintf("%s_%s.%s", sanitized, timestamp, ext)
}
