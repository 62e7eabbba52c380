package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackChannel posts notifications to an incoming-webhook URL.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates the channel. An empty URL disables it.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f"
	switch n.Severity {
	case SeverityWarning:
		color = "#ffcc00"
	case SeverityCritical:
		color = "#8b0000"
	}

	var fields []map[string]interface{}
	for k, v := range n.Fields {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", n.Severity, n.Title),
				"text":    n.Message,
				"fields":  fields,
				"ts":      n.Timestamp.Unix(),
				"footer":  "arb_engine",
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
