package notify

import (
	"fmt"

	slackapi "github.com/slack-go/slack"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// SlackNotifier posts alerts to an incoming-webhook URL configured
// under alerts.slack.webhook_url.
type SlackNotifier struct {
	cfg *config.Manager
	log *logger.Logger

	// post is swapped in tests.
	post func(url string, msg *slackapi.WebhookMessage) error
}

func NewSlackNotifier(cfg *config.Manager, log *logger.Logger) *SlackNotifier {
	return &SlackNotifier{
		cfg: cfg,
		log: log.Component("slack"),
		post: func(url string, msg *slackapi.WebhookMessage) error {
			return slackapi.PostWebhook(url, msg)
		},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Configured() bool {
	return s.cfg.GetString("alerts.slack.webhook_url", "") != ""
}

func (s *SlackNotifier) Send(event models.AlertEvent) error {
	url := s.cfg.GetString("alerts.slack.webhook_url", "")
	if url == "" {
		return fmt.Errorf("slack: webhook url not configured")
	}

	att := slackapi.Attachment{
		Color: ruleColor(event),
		Title: fmt.Sprintf("%s: %s", ruleTitle(event.Rule), event.NodeName),
		Text:  event.Message,
	}
	if event.Test {
		att.Footer = testFooter
	}

	if err := s.post(url, &slackapi.WebhookMessage{Attachments: []slackapi.Attachment{att}}); err != nil {
		return fmt.Errorf("failed to post slack alert: %w", err)
	}
	s.log.Info("Slack alert posted: %s", att.Title)
	return nil
}

// ruleColor picks the attachment color: red for rules that mean a node
// is lost or cooking, yellow for degradation, blue for drills.
func ruleColor(event models.AlertEvent) string {
	if event.Test {
		return "#439fe0"
	}
	switch event.Rule {
	case models.RuleNodeOffline, models.RuleHighTemperature:
		return "danger"
	}
	return "warning"
}
