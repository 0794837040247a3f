// Package returners implements spec.md's "<name>.returner" result sinks:
// each file delivers a completed domain.JobResult somewhere beyond the
// controller channel, generalized from the teacher's middlewares/ package
// (there, each file was a core.Middleware triggered on a scheduled job's
// completion; here, each is a ports.ReturnSink triggered on a dispatched
// envelope's completion).
package returners

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

// WebhookConfig configures one HTTP POST return sink.
type WebhookConfig struct {
	Name        string
	URL         string
	Timeout     time.Duration
	OnlyOnError bool
	RetryCount  int
	RetryDelay  time.Duration
}

// Webhook POSTs the JSON-encoded JobResult to Config.URL, generalized from
// middlewares/webhook.go's preset-driven sender but without the
// template/preset machinery — return sinks here deliver the job result
// verbatim rather than rendering a per-service message template.
type Webhook struct {
	Config WebhookConfig
	Client *http.Client
}

// NewWebhook builds a Webhook sink with a client scoped to Config.Timeout.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Webhook{
		Config: cfg,
		Client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (w *Webhook) Name() string { return w.Config.Name }

func (w *Webhook) Send(ctx context.Context, result domain.JobResult) error {
	if w.Config.OnlyOnError && result.Success {
		return nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("webhook %q: marshal job result: %w", w.Config.Name, err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.Config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.Config.RetryDelay):
			}
		}

		if err := w.post(ctx, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("webhook %q: all %d attempts failed: %w", w.Config.Name, w.Config.RetryCount+1, lastErr)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, w.Config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.Config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, w.Config.URL)
	}
	return nil
}

// ParseNames splits a comma-separated ret_config return sink list.
func ParseNames(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}

var _ ports.ReturnSink = (*Webhook)(nil)
