package events

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/blackwell-systems/addonsync/internal/addon"
)

// WebhookPayload is the JSON body POSTed by webhook listeners.
type WebhookPayload struct {
	Event          addon.EventKind `json:"event"`
	Channel        string          `json:"channel"`
	Kind           addon.Kind      `json:"package_kind"`
	ID             int64           `json:"package_id"`
	Name           string          `json:"package_name"`
	ProxyName      string          `json:"proxy_name,omitempty"`
	Status         addon.Status    `json:"status,omitempty"`
	CurrentVersion string          `json:"current_version,omitempty"`
	TargetVersion  string          `json:"target_version,omitempty"`
	Supports       []string        `json:"supports,omitempty"`
	SentAt         time.Time       `json:"sent_at"`
}

// NewWebhookPayload builds the payload for kind and rec.
func NewWebhookPayload(kind addon.EventKind, rec *addon.Record) WebhookPayload {
	return WebhookPayload{
		Event:          kind,
		Channel:        addon.Channel(kind, rec.Name),
		Kind:           rec.Kind,
		ID:             rec.ID,
		Name:           rec.Name,
		ProxyName:      rec.ProxyName,
		Status:         rec.Status,
		CurrentVersion: rec.CurrentVersion,
		TargetVersion:  rec.TargetVersion,
		Supports:       rec.Supports,
		SentAt:         time.Now().UTC(),
	}
}

// WebhookListener POSTs each event to url. Any non-2xx response is an error.
func WebhookListener(client *resty.Client, url string) Listener {
	return func(ctx context.Context, kind addon.EventKind, rec *addon.Record) error {
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(NewWebhookPayload(kind, rec)).
			Post(url)
		if err != nil {
			return fmt.Errorf("webhook %s: %w", url, err)
		}
		if resp.IsError() {
			return fmt.Errorf("webhook %s: unexpected status %d", url, resp.StatusCode())
		}
		return nil
	}
}
