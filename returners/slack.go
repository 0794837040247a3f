package returners

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

var (
	slackUsername  = "fleetagent"
	slackAvatarURL = ""
)

// SlackConfig configures a Slack incoming-webhook return sink, generalized
// from middlewares/slack.go.
type SlackConfig struct {
	Name        string
	WebhookURL  string
	OnlyOnError bool
}

// Slack posts a JobResult summary to a Slack incoming webhook.
type Slack struct {
	Config SlackConfig
	Client *http.Client
}

func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{Config: cfg, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *Slack) Name() string { return s.Config.Name }

func (s *Slack) Send(ctx context.Context, result domain.JobResult) error {
	if s.Config.OnlyOnError && result.Success {
		return nil
	}

	values := make(url.Values)
	payload, err := json.Marshal(s.buildMessage(result))
	if err != nil {
		return fmt.Errorf("slack %q: marshal message: %w", s.Config.Name, err)
	}
	values.Add("payload", string(payload))

	u, err := url.Parse(s.Config.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("slack %q: invalid webhook URL %q", s.Config.Name, s.Config.WebhookURL)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.Client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u.String(), strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("slack %q: build request: %w", s.Config.Name, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("slack %q: %w", s.Config.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack %q: non-200 status %d", s.Config.Name, resp.StatusCode)
	}
	return nil
}

func (s *Slack) buildMessage(result domain.JobResult) slackMessage {
	msg := slackMessage{Username: slackUsername, IconURL: slackAvatarURL}
	msg.Text = fmt.Sprintf("Job `%s` (jid %s) finished, function `%s`", result.Function, result.JobID, result.Function)

	if !result.Success {
		msg.Attachments = append(msg.Attachments, slackAttachment{
			Title: "Execution failed",
			Text:  result.ErrTraceback,
			Color: "#F35A00",
		})
	} else {
		msg.Attachments = append(msg.Attachments, slackAttachment{
			Title: "Execution successful",
			Color: "#7CD197",
		})
	}
	return msg
}

type slackMessage struct {
	Text        string            `json:"text"`
	Username    string            `json:"username"`
	Attachments []slackAttachment `json:"attachments"`
	IconURL     string            `json:"icon_url,omitempty"`
}

type slackAttachment struct {
	Color string `json:"color,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

var _ ports.ReturnSink = (*Slack)(nil)
