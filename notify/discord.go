package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"leadpilot/metrics"
	"leadpilot/utils"
)

// Discord posts alerts to a Discord webhook
type Discord struct {
	webhookURL string
	client     *http.Client
	timeout    time.Duration
	logger     *utils.Logger
	metrics    *metrics.Metrics
}

// New returns a Discord notifier, or Nop when no webhook is configured
func New(cfg utils.NotifyConfig, logger *utils.Logger, m *metrics.Metrics) Notifier {
	if cfg.DiscordWebhookURL == "" {
		return Nop{}
	}
	return NewDiscord(cfg.DiscordWebhookURL, cfg.Timeout, nil, logger, m)
}

// NewDiscord creates a Discord webhook notifier. client may be nil.
func NewDiscord(webhookURL string, timeout time.Duration, client *http.Client, logger *utils.Logger, m *metrics.Metrics) *Discord {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Discord{
		webhookURL: webhookURL,
		client:     client,
		timeout:    timeout,
		logger:     logger.Named("notify"),
		metrics:    m,
	}
}

type webhookMessage struct {
	Content string `json:"content"`
}

// Notify posts the rendered alert. Failures are logged and swallowed.
func (d *Discord) Notify(ctx context.Context, kind Kind, payload Payload) {
	err := d.send(ctx, Render(kind, payload))
	d.metrics.RecordNotification(string(kind), err)
	if err != nil {
		d.logger.Warn("Failed to send %s notification: %v", kind, err)
	}
}

func (d *Discord) send(ctx context.Context, content string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	body, err := json.Marshal(webhookMessage{Content: content})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, string(msg))
	}
	return nil
}
