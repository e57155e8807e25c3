// Package notify delivers provisioning notifications to the managing
// admin. Delivery is acknowledged: a notification counts as sent only
// after the receiver confirms it with a 2xx response, and provisioning
// completion is held back until that acknowledgement arrives.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/engine"
)

// Event is the payload delivered to the admin webhook.
type Event struct {
	Kind      string    `json:"kind"`
	Action    string    `json:"action"`
	Admin     string    `json:"admin"`
	UserID    int       `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event kinds.
const (
	KindProfileProvisioned = "profile-provisioned"
	KindResumePending      = "resume-pending"
)

// AdminNotifier signals the managing admin that its profile is ready.
type AdminNotifier interface {
	NotifyProfileProvisioned(ctx context.Context, req *engine.ProvisioningRequest, profileUserID int) error
}

// Webhook posts events to an admin-operated HTTP endpoint and waits for
// the acknowledgement.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithTimeout sets the per-delivery timeout.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.timeout = d }
}

// NewWebhook creates a webhook notifier for the given endpoint URL.
func NewWebhook(url string, logger zerolog.Logger, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  http.DefaultClient,
		timeout: 30 * time.Second,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NotifyProfileProvisioned tells the admin its managed profile exists.
// The call blocks until the endpoint acknowledges or the timeout expires.
func (w *Webhook) NotifyProfileProvisioned(ctx context.Context, req *engine.ProvisioningRequest, profileUserID int) error {
	return w.deliver(ctx, Event{
		Kind:      KindProfileProvisioned,
		Action:    string(req.Action),
		Admin:     req.AdminComponent.String(),
		UserID:    profileUserID,
		Timestamp: time.Now().UTC(),
	})
}

// ShowResumeNotification tells the admin an interrupted run is waiting to
// be resumed. Used for profile flows interrupted by the encryption reboot
// on a device whose setup already completed.
func (w *Webhook) ShowResumeNotification(ctx context.Context, req *engine.ProvisioningRequest) error {
	return w.deliver(ctx, Event{
		Kind:      KindResumePending,
		Action:    string(req.Action),
		Admin:     req.AdminComponent.String(),
		Timestamp: time.Now().UTC(),
	})
}

func (w *Webhook) deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to deliver %s notification: %w", ev.Kind, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s notification not acknowledged: status %d", ev.Kind, resp.StatusCode)
	}
	w.logger.Debug().Str("kind", ev.Kind).Str("admin", ev.Admin).Msg("Notification acknowledged")
	return nil
}

// Nop is a notifier that drops every event. Used when no webhook is
// configured.
type Nop struct{}

// NotifyProfileProvisioned implements AdminNotifier.
func (Nop) NotifyProfileProvisioned(context.Context, *engine.ProvisioningRequest, int) error {
	return nil
}

// ShowResumeNotification implements the resume notification sink.
func (Nop) ShowResumeNotification(context.Context, *engine.ProvisioningRequest) error {
	return nil
}
