// Package notifications posts operational events to a Slack webhook.
// Fire-and-forget: callers ignore the error except for logging.
package notifications

import (
	"questtable-backend/internal/config"

	"github.com/slack-go/slack"
)

// SendSlackNotification posts a message to the configured ops channel.
// No-op when the webhook is not configured.
func SendSlackNotification(message string, cfg *config.Config) error {
	if cfg.Slack.OpsWebhookURL == "" {
		return nil
	}

	return slack.PostWebhook(cfg.Slack.OpsWebhookURL, &slack.WebhookMessage{
		Text: message,
	})
}
