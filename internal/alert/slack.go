package alert

import (
	"context"
	"log/slog"
	"os"

	"github.com/slack-go/slack"
)

type SlackNotifier struct {
	channel string
	client  *slack.Client
}

func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	if botToken == "" {
		botToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	return &SlackNotifier{
		channel: channel,
		client:  slack.New(botToken),
	}
}

func (s *SlackNotifier) Name() string {
	return "slack"
}

func (s *SlackNotifier) Notify(ctx context.Context, message string) {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(message, false))
	if err != nil {
		slog.Error("Failed to post Slack alert", "channel", s.channel, "error", err)
		return
	}
	slog.Debug("Slack alert sent", "channel", s.channel)
}
