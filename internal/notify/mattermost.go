// Package notify posts human-in-the-loop updates to Mattermost via an
// incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Notifier posts messages to a Mattermost incoming webhook. A Notifier with
// an empty webhook URL is a no-op, so callers never need to branch on
// whether notifications are configured.
type Notifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewNotifier creates a notifier. webhookURL may be empty to disable
// notifications.
func NewNotifier(webhookURL, channel string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
}

// Post sends a markdown message. Notification failures are logged and
// returned but should not abort the pipeline step that triggered them.
func (n *Notifier) Post(ctx context.Context, text string) error {
	if n == nil || n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		Text:     text,
		Channel:  n.channel,
		Username: "qanat",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("[Notify] webhook post failed: %v", err)
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Notify] webhook returned %d", resp.StatusCode)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
