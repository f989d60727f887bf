// Package notify sends best-effort operator alerts
package notify

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Kind identifies what an alert is about
type Kind string

const (
	KindLead     Kind = "lead"
	KindExchange Kind = "exchange"
	KindTakeover Kind = "takeover"
)

// TakeoverReply is shown in place of a reply when no automated reply was sent
const TakeoverReply = "[Human Takeover Active - No AI Reply]"

// Payload carries the fields an alert renders. Lead alerts use the lead
// fields, conversation alerts the message fields.
type Payload struct {
	// lead
	Source string
	Title  string
	URL    string
	Score  float64

	// conversation
	Handle  string
	Message string
	Reply   string
}

// Notifier delivers alerts. Notify never fails; delivery problems are
// logged by the implementation.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, payload Payload)
}

// Nop discards every alert
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, Kind, Payload) {}

// maxContent is Discord's message length limit
const maxContent = 2000

// Render formats an alert as chat text
func Render(kind Kind, p Payload) string {
	var s string
	switch kind {
	case KindLead:
		s = fmt.Sprintf("🚨 **New Lead Detected!**\n**Subreddit:** r/%s\n**Title:** %s\n**URL:** %s\n**Score:** %g",
			p.Source, p.Title, p.URL, p.Score)
	case KindTakeover:
		s = fmt.Sprintf("💬 **New DM from u/%s**\n\n**User:** %s\n\n**AI Reply:** %s", p.Handle, p.Message, TakeoverReply)
	default:
		s = fmt.Sprintf("💬 **New DM from u/%s**\n\n**User:** %s\n\n**AI Reply:** %s", p.Handle, p.Message, p.Reply)
	}
	return truncate(s, maxContent)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
