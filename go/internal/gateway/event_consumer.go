package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/events"
)

// EventConsumer tails the room event stream and fans events out to the
// sockets of the room they belong to. Every gateway instance runs its own
// ordered consumer, so each sees every event exactly once per connection.
type EventConsumer struct {
	connectionManager *ConnectionManager
	js                jetstream.JetStream
	config            events.JetStreamConfig
}

func NewEventConsumer(nc *nats.Conn, cm *ConnectionManager, config events.JetStreamConfig) (*EventConsumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &EventConsumer{
		connectionManager: cm,
		js:                js,
		config:            config,
	}, nil
}

// Start consumes new events until ctx is done.
func (ec *EventConsumer) Start(ctx context.Context) error {
	consumer, err := ec.js.OrderedConsumer(ctx, ec.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ec.config.StreamSubjects()},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	log.Info().
		Str("stream", ec.config.StreamName).
		Str("subject", ec.config.StreamSubjects()).
		Msg("starting JetStream event consumer")

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := ec.processMessage(msg); err != nil {
			log.Error().
				Err(err).
				Str("subject", msg.Subject()).
				Msg("failed to process message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("event consumer shutting down")
	return nil
}

func (ec *EventConsumer) processMessage(msg jetstream.Msg) error {
	return ec.dispatch(msg.Subject(), msg.Data())
}

// dispatch routes one stream message to the sockets of its room. The room
// in the subject and in the envelope must agree.
func (ec *EventConsumer) dispatch(subject string, data []byte) error {
	code, _, ok := ec.config.ParseSubject(subject)
	if !ok {
		return fmt.Errorf("unexpected subject %q", subject)
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if ev.RoomCode != code {
		return fmt.Errorf("event %s for room %q arrived on subject of room %q", ev.ID, ev.RoomCode, code)
	}

	ec.connectionManager.BroadcastToRoom(ev.RoomCode, eventMessage(ev))

	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("event_type", ev.Type).
		Str("room_code", ev.RoomCode).
		Msg("event broadcasted to websocket clients")
	return nil
}
