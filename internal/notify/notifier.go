package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Notification is a single advisory message for one recipient.
type Notification struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Notifier delivers a notification. Implementations must return once the
// delivery has either succeeded or definitively failed.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// WithTimeout bounds every Notify call on next by timeout.
func WithTimeout(next Notifier, timeout time.Duration) (Notifier, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("notify timeout must be positive, got %s", timeout)
	}
	return NotifierFunc(func(ctx context.Context, n Notification) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- next.Notify(ctx, n) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return fmt.Errorf("notifying %s: %w", n.Recipient, ctx.Err())
		}
	}), nil
}

// LogNotifier writes notifications to the application log instead of
// delivering them.
type LogNotifier struct{}

// Notify logs n.
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Info().
		Str("recipient", n.Recipient).
		Str("subject", n.Subject).
		Msg("recipient informed")
	return nil
}
