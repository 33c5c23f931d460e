// Package notify delivers advisory notifications to principals.
//
// Dispatch fans recipients out in fixed-size batches: calls inside a batch run
// concurrently, batches run strictly one after another, and a failed call never
// stops the remaining recipients.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of concurrent notify calls per batch.
const DefaultBatchSize = 3

var tracer = otel.Tracer("github.com/bcnelson/membership-manager/internal/notify")

// Dispatch calls notify for every recipient, at most batchSize at a time, and
// returns the recipients whose call succeeded in their original order.
//
// Dispatch imposes no timeout of its own: a call that never returns stalls its
// batch and every batch after it. Wrap the notifier with WithTimeout.
func Dispatch[R any](ctx context.Context, recipients []R, batchSize int, notify func(context.Context, R) error) ([]R, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	ctx, span := tracer.Start(ctx, "notify.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("notify.recipients", len(recipients)),
		attribute.Int("notify.batch_size", batchSize),
	)

	succeeded := make([]bool, len(recipients))
	for start := 0; start < len(recipients); start += batchSize {
		end := min(start+batchSize, len(recipients))
		dispatchBatch(ctx, start/batchSize+1, recipients[start:end], succeeded[start:end], notify)
	}

	notified := make([]R, 0, len(recipients))
	for i, ok := range succeeded {
		if ok {
			notified = append(notified, recipients[i])
		}
	}

	if failed := len(recipients) - len(notified); failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d notifications failed", failed))
	}
	span.SetAttributes(attribute.Int("notify.notified", len(notified)))

	return notified, nil
}

// dispatchBatch runs one batch and waits for every call to settle.
func dispatchBatch[R any](ctx context.Context, number int, batch []R, succeeded []bool, notify func(context.Context, R) error) {
	ctx, span := tracer.Start(ctx, "notify.batch", trace.WithAttributes(
		attribute.Int("notify.batch", number),
		attribute.Int("notify.batch_len", len(batch)),
	))
	defer span.End()

	log.Debug().Int("batch", number).Int("size", len(batch)).Msg("dispatching notification batch")

	// Failures are recorded per recipient, never returned, so one bad target
	// does not cancel its siblings.
	var g errgroup.Group
	for i := range batch {
		g.Go(func() error {
			if err := notify(ctx, batch[i]); err != nil {
				log.Warn().Err(err).Int("batch", number).Msgf("notification to %v failed", batch[i])
				span.AddEvent("notify failed", trace.WithAttributes(attribute.String("error", err.Error())))
				return nil
			}
			succeeded[i] = true
			return nil
		})
	}
	_ = g.Wait()
}
