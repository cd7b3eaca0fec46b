package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"crawlfleet/pkg/autoscaler"
	"crawlfleet/pkg/logger"
	"crawlfleet/pkg/status"
)

const webhookURLEnv = "CRAWLFLEET_WEBHOOK_URL"

// WebhookNotifier posts activation outcomes to a Feishu (Lark) style chat webhook
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
	sanitizer  *status.StatusSanitizer
}

var _ autoscaler.ActivationObserver = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a notifier. An empty url falls back to the
// CRAWLFLEET_WEBHOOK_URL environment variable; with neither, notifications are skipped.
func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	if webhookURL == "" {
		webhookURL = os.Getenv(webhookURLEnv)
	}
	if webhookURL == "" {
		logger.Warn("webhook URL not configured (notification.webhook_url or " + webhookURLEnv + "), activation notifications disabled")
	}

	return &WebhookNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// SetSanitizer adds an operator hint for failed activations to each message
func (n *WebhookNotifier) SetSanitizer(s *status.StatusSanitizer) {
	n.sanitizer = s
}

// Enabled reports whether a webhook is configured
func (n *WebhookNotifier) Enabled() bool {
	return n.webhookURL != ""
}

// OnActivation posts the activation outcome
func (n *WebhookNotifier) OnActivation(ctx context.Context, event *autoscaler.ActivationEvent) error {
	if !n.Enabled() {
		return nil
	}

	var hint *status.SanitizedError
	if n.sanitizer != nil && !event.Success {
		hint = n.sanitizer.Sanitize(event.Error)
	}

	payload, err := json.Marshal(buildActivationMessage(event, hint))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}

	logger.DebugCtx(ctx, "activation notification sent for node %s", event.NodeID)
	return nil
}

func lmd(content string) map[string]interface{} {
	return map[string]interface{}{"content": content, "tag": "lark_md"}
}

func shortField(content string) map[string]interface{} {
	return map[string]interface{}{"is_short": true, "text": lmd(content)}
}

// buildActivationMessage builds an interactive message card for one activation
func buildActivationMessage(event *autoscaler.ActivationEvent, hint *status.SanitizedError) map[string]interface{} {
	template, title := "green", "Worker node activated"
	if !event.Success {
		template, title = "red", "Worker node activation failed"
	}

	elements := []interface{}{
		map[string]interface{}{
			"tag":  "div",
			"text": lmd(fmt.Sprintf("**Node**: %s (%s)", event.NodeName, event.NodeID)),
		},
		map[string]interface{}{"tag": "hr"},
		map[string]interface{}{
			"tag": "div",
			"fields": []interface{}{
				shortField(fmt.Sprintf("**Trigger**\n%s", event.Trigger)),
				shortField(fmt.Sprintf("**Queue depth / threshold**\n%d / %d", event.QueueDepth, event.Threshold)),
			},
		},
		map[string]interface{}{
			"tag": "div",
			"fields": []interface{}{
				shortField(fmt.Sprintf("**Address**\n%s", orDash(event.Address))),
				shortField(fmt.Sprintf("**Address attempts**\n%d", event.AddressAttempts)),
			},
		},
		map[string]interface{}{
			"tag": "div",
			"text": lmd(fmt.Sprintf("**Started**: %s  **Took**: %s",
				event.StartedAt.UTC().Format("2006-01-02 15:04:05"),
				event.FinishedAt.Sub(event.StartedAt).Round(time.Second))),
		},
	}

	if hint != nil {
		elements = append(elements,
			map[string]interface{}{"tag": "hr"},
			map[string]interface{}{
				"tag":  "div",
				"text": lmd(fmt.Sprintf("**%s** (%s)\n%s", hint.UserMessage, hint.ErrorCode, hint.Suggestion)),
			},
		)
	}

	if event.Error != "" {
		elements = append(elements,
			map[string]interface{}{"tag": "hr"},
			map[string]interface{}{
				"tag": "note",
				"elements": []interface{}{
					map[string]interface{}{"content": event.Error, "tag": "plain_text"},
				},
			},
		)
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": template,
				"title": map[string]interface{}{
					"content": title,
					"tag":     "plain_text",
				},
			},
			"elements": elements,
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
