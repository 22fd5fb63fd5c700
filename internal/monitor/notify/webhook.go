package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"alertengine/internal/errorc"
)

var errs = errorc.NewBuilder("notify")

// WebhookNotifier is a generic HTTP POST transport: it exists so
// cmd/alertingd has a concrete Notifier to wire out of the box, not as a
// replacement for the teacher's vendor-specific channels (dingtalk/email/
// wechat), which spec §1 excludes as out of scope.
type WebhookNotifier struct {
	client      *http.Client
	destination map[string]string
}

func NewWebhookNotifier(destinations map[string]string) *WebhookNotifier {
	return &WebhookNotifier{
		client:      &http.Client{Timeout: 10 * time.Second},
		destination: destinations,
	}
}

type webhookPayload struct {
	ActionID string `json:"action_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	User     string `json:"user"`
}

func (n *WebhookNotifier) Send(ctx context.Context, actionID, subject, body, destinationID string, principal Principal) error {
	url, ok := n.destination[destinationID]
	if !ok {
		return errs.NotFound(fmt.Sprintf("unknown notification destination %q", destinationID), nil)
	}

	payload, err := json.Marshal(webhookPayload{ActionID: actionID, Subject: subject, Body: body, User: principal.Name})
	if err != nil {
		return errs.Fatal("encoding webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errs.Fatal("building webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errs.Transient("sending webhook notification", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errs.Transient(fmt.Sprintf("webhook destination returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 300 {
		return errs.Fatal(fmt.Sprintf("webhook destination returned %d", resp.StatusCode), nil)
	}
	return nil
}
