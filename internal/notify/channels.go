package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"guardpost/internal/domain"
	"guardpost/internal/notify/wshub"
)

// Channel delivers one notification. Send must respect the context deadline;
// any error schedules a retry.
type Channel interface {
	Name() string
	Send(ctx context.Context, n domain.Notification) error
}

// wireMessage is the JSON envelope for webhook and websocket deliveries.
type wireMessage struct {
	ID       string         `json:"id"`
	AlertID  string         `json:"alert_id"`
	TargetID string         `json:"target_id"`
	Subject  string         `json:"subject"`
	Body     string         `json:"body"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func toWire(n domain.Notification) wireMessage {
	return wireMessage{
		ID:       n.ID,
		AlertID:  n.AlertID,
		TargetID: n.TargetID,
		Subject:  n.Subject,
		Body:     n.Body,
		Payload:  n.Payload,
	}
}

// WebhookChannel POSTs notifications to a configured endpoint.
type WebhookChannel struct {
	URL    string
	Client *http.Client
}

func (c WebhookChannel) Name() string { return "webhook" }

func (c WebhookChannel) Send(ctx context.Context, n domain.Notification) error {
	if c.URL == "" {
		return fmt.Errorf("webhook url not configured")
	}
	payload, err := json.Marshal(toWire(n))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// WebsocketChannel broadcasts notifications to connected dashboard clients.
type WebsocketChannel struct {
	Hub *wshub.Hub
}

func (c WebsocketChannel) Name() string { return "websocket" }

func (c WebsocketChannel) Send(ctx context.Context, n domain.Notification) error {
	if c.Hub == nil {
		return fmt.Errorf("websocket hub not configured")
	}
	payload, err := json.Marshal(toWire(n))
	if err != nil {
		return err
	}
	c.Hub.Broadcast(payload)
	return nil
}

// LogChannel writes notifications to the structured log. It is the sink for
// admin notices and the default for staff without contact channels.
type LogChannel struct {
	Log zerolog.Logger
}

func (c LogChannel) Name() string { return "log" }

func (c LogChannel) Send(ctx context.Context, n domain.Notification) error {
	c.Log.Info().
		Str("notification_id", n.ID).
		Str("alert_id", n.AlertID).
		Str("target_id", n.TargetID).
		Str("subject", n.Subject).
		Msg(n.Body)
	return nil
}
