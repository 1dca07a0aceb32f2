package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes events to the log. Used when no stream is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.Type).
		Str("room_code", event.RoomCode).
		RawJSON("payload", event.Payload).
		Msg("room event")
	return nil
}

// Multi publishes to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
