// Package slack posts operator notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/notice"
)

const (
	maxErrorLen = 2000
	httpTimeout = 10 * time.Second
)

// Notifier sends pipeline notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, every method
// is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// BuildFailed reports a notice whose targets could not be built after every
// retry, so an operator can take over.
func (n *Notifier) BuildFailed(ctx context.Context, nt *notice.Notice, buildErr error) error {
	detail := "_no error detail_"
	if buildErr != nil {
		detail = truncate(buildErr.Error(), maxErrorLen)
	}
	msg := map[string]any{
		"text": fmt.Sprintf("Target build failed for %s", nt.ID),
		"blocks": []map[string]any{
			headerBlock("\U0001f534", "Target build failed", nt),
			{"type": "divider"},
			fieldsBlock(nt, ""),
			{"type": "divider"},
			sectionBlock(fmt.Sprintf("*Error*\n\n```%s```", detail)),
			contextBlock(nt),
		},
	}
	return n.post(ctx, nt.ID, msg)
}

// Wakeup announces a notice matched to a strategy that pages operators.
func (n *Notifier) Wakeup(ctx context.Context, nt *notice.Notice, strategyName string, targets int) error {
	msg := map[string]any{
		"text": fmt.Sprintf("<!channel> %s %s event %s", nt.Source, nt.Subtype, nt.EventID),
		"blocks": []map[string]any{
			headerBlock("\U0001f6a8", "New "+nt.Source+" event", nt),
			{"type": "divider"},
			fieldsBlock(nt, strategyName),
			{"type": "divider"},
			sectionBlock(fmt.Sprintf("<!channel> *%d* target(s) queued under *%s*.", targets, strategyName)),
			contextBlock(nt),
		},
	}
	return n.post(ctx, nt.ID, msg)
}

func (n *Notifier) post(ctx context.Context, noticeID string, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent", "notice", noticeID)
	return nil
}

func headerBlock(emoji, title string, nt *notice.Notice) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s", emoji, title, nt.EventID),
		},
	}
}

func fieldsBlock(nt *notice.Notice, strategyName string) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", nt.Source)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Type:* %s", nt.Subtype)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Localization:* %s", nt.Localization.Kind())},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Event time:* %s", nt.EventTime.UTC().Format("2006-01-02 15:04:05 UTC"))},
	}
	if p := nt.Localization.Position; p != nil {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Position:* %.4f, %+.4f", p.RA, p.Dec),
		})
	}
	if strategyName != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Strategy:* %s", strategyName),
		})
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func sectionBlock(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(nt *notice.Notice) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("sentinel • %s • issued %s", nt.ID, nt.Time.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
