package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultBatchSize = 100

type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, key, eventType string, payload []byte) error
}

// Relay copies unsent outbox rows to the message broker. Delivery is
// at-least-once: a crash between publish and MarkSent republishes the row.
type Relay struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewRelay(source Source, publisher Publisher, interval time.Duration, logger *slog.Logger) *Relay {
	return &Relay{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox flush failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch in insertion order and stops at the first publish
// failure so later events for the same order are not sent ahead of it.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	records, err := r.source.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending events: %w", err)
	}

	sent := 0
	for _, rec := range records {
		if err := r.publisher.Publish(ctx, rec.Key, rec.EventType, rec.Payload); err != nil {
			return sent, fmt.Errorf("publish event %s: %w", rec.EventID, err)
		}

		if err := r.source.MarkSent(ctx, rec.ID); err != nil {
			return sent, fmt.Errorf("mark event %s sent: %w", rec.EventID, err)
		}

		sent++
		r.logger.Info("outbox event published", "event_id", rec.EventID, "event_type", rec.EventType, "key", rec.Key)
	}

	return sent, nil
}
