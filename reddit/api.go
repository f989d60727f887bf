package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadpilot/db"
	"leadpilot/inbox"
	"leadpilot/monitor"
)

// Kind prefixes of Reddit fullnames
const (
	kindMessage = "t4"
	kindLink    = "t3"
)

type listing struct {
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string    `json:"kind"`
	Data thingData `json:"data"`
}

type thingData struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Subreddit  string  `json:"subreddit"`
	Author     string  `json:"author"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	Subject    string  `json:"subject"`
	Body       string  `json:"body"`
	CreatedUTC float64 `json:"created_utc"`
}

func unixSeconds(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

// FetchNewItems lists the newest posts across sources as one multireddit
func (c *Client) FetchNewItems(ctx context.Context, sources []string, limit int) ([]monitor.Item, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	var l listing
	path := "/r/" + url.PathEscape(strings.Join(sources, "+")) + "/new"
	q := url.Values{"limit": {strconv.Itoa(limit)}, "raw_json": {"1"}}
	if err := c.get(ctx, path, q, &l); err != nil {
		return nil, err
	}

	items := make([]monitor.Item, 0, len(l.Data.Children))
	for _, t := range l.Data.Children {
		if t.Kind != kindLink {
			continue
		}
		items = append(items, toItem(t.Data))
	}
	return items, nil
}

func toItem(d thingData) monitor.Item {
	link := d.URL
	if link == "" && d.Permalink != "" {
		link = "https://www.reddit.com" + d.Permalink
	}
	return monitor.Item{
		ExternalID: d.ID,
		Title:      d.Title,
		Body:       d.Selftext,
		Source:     d.Subreddit,
		Author:     d.Author,
		URL:        link,
		CreatedAt:  unixSeconds(d.CreatedUTC),
	}
}

// FetchUnread lists unread inbox items. Private messages are Direct; comment
// replies and mentions are not.
func (c *Client) FetchUnread(ctx context.Context, limit int) ([]inbox.Message, error) {
	var l listing
	q := url.Values{"limit": {strconv.Itoa(limit)}, "raw_json": {"1"}}
	if err := c.get(ctx, "/message/unread", q, &l); err != nil {
		return nil, err
	}

	msgs := make([]inbox.Message, 0, len(l.Data.Children))
	for _, t := range l.Data.Children {
		msgs = append(msgs, toMessage(t))
	}
	return msgs, nil
}

func toMessage(t thing) inbox.Message {
	name := t.Data.Name
	if name == "" {
		name = t.Kind + "_" + t.Data.ID
	}
	return inbox.Message{
		ExternalID: name,
		Sender:     db.NormalizeHandle(t.Data.Author),
		Subject:    t.Data.Subject,
		Body:       t.Data.Body,
		Direct:     t.Kind == kindMessage,
		ReceivedAt: unixSeconds(t.Data.CreatedUTC),
	}
}

// MarkConsumed marks an inbox item read
func (c *Client) MarkConsumed(ctx context.Context, msg inbox.Message) error {
	return c.post(ctx, "/api/read_message", url.Values{"id": {msg.ExternalID}}, nil)
}

type commentResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
	} `json:"json"`
}

// Reply answers a message in its thread
func (c *Client) Reply(ctx context.Context, msg inbox.Message, text string) error {
	var resp commentResponse
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {msg.ExternalID},
		"text":     {text},
	}
	if err := c.post(ctx, "/api/comment", form, &resp); err != nil {
		return err
	}
	if len(resp.JSON.Errors) > 0 {
		return fmt.Errorf("reply to %s rejected: %v", msg.ExternalID, resp.JSON.Errors[0])
	}
	c.logger.Debug("Replied to %s (%s)", msg.Sender, msg.ExternalID)
	return nil
}
