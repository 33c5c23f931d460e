package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL             string
	MaxTries        uint
	InitialInterval time.Duration
	Client          *http.Client
}

// WebhookNotifier POSTs each notification as JSON to a fixed URL.
// 5xx responses and transport errors are retried with exponential backoff;
// other non-2xx responses fail immediately.
type WebhookNotifier struct {
	url             string
	maxTries        uint
	initialInterval time.Duration
	client          *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = backoff.DefaultInitialInterval
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &WebhookNotifier{
		url:             cfg.URL,
		maxTries:        cfg.MaxTries,
		initialInterval: cfg.InitialInterval,
		client:          cfg.Client,
	}, nil
}

// Notify delivers n to the webhook.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.post(ctx, payload)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(w.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Str("recipient", n.Recipient).Dur("next_retry", next).Msg("webhook delivery failed, will retry")
		}),
	)
	if err != nil {
		return fmt.Errorf("notifying %s: %w", n.Recipient, err)
	}
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %s", resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("webhook returned %s", resp.Status))
	}
}
