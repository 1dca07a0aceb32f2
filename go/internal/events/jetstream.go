package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig describes the room event stream. Subjects are keyed by
// room, <prefix>.<room code>.<event type>, so a consumer can follow one room
// or all of them.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration

	// RoomRetention is how long a room's events stay replayable.
	RoomRetention time.Duration
	// EventsPerRoomType caps the history kept for one event type of one room.
	EventsPerRoomType int64
	Replicas          int
	// DuplicateWindow must cover redundant hosts publishing the same fact.
	DuplicateWindow time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:               nats.DefaultURL,
		StreamName:        "ROOM_EVENTS",
		SubjectPrefix:     "room.events",
		MaxReconnects:     -1,
		ReconnectWait:     2 * time.Second,
		RoomRetention:     6 * time.Hour,
		EventsPerRoomType: 256,
		Replicas:          1,
		DuplicateWindow:   2 * time.Minute,
	}
}

// Subject returns the subject an event of eventType in room code goes to.
func (c JetStreamConfig) Subject(code, eventType string) string {
	return c.SubjectPrefix + "." + code + "." + eventType
}

// RoomSubjects matches every event of one room.
func (c JetStreamConfig) RoomSubjects(code string) string {
	return c.SubjectPrefix + "." + code + ".>"
}

// StreamSubjects matches every room event and nothing else.
func (c JetStreamConfig) StreamSubjects() string {
	return c.SubjectPrefix + ".*.*"
}

// ParseSubject splits a room event subject into room code and event type.
func (c JetStreamConfig) ParseSubject(subject string) (code, eventType string, ok bool) {
	rest, ok := strings.CutPrefix(subject, c.SubjectPrefix+".")
	if !ok {
		return "", "", false
	}
	code, eventType, ok = strings.Cut(rest, ".")
	if !ok || code == "" || eventType == "" || strings.Contains(eventType, ".") {
		return "", "", false
	}
	return code, eventType, true
}

// Connect dials NATS with reconnect handlers that log.
func Connect(cfg JetStreamConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("artphone"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher publishes room events with their id as message id, so
// the stream keeps one copy of a fact however many hosts report it.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg.StreamConfig())
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	info := stream.CachedInfo()
	log.Info().
		Str("stream", info.Config.Name).
		Str("subjects", cfg.StreamSubjects()).
		Uint64("messages", info.State.Msgs).
		Msg("room event stream ready")

	return &JetStreamPublisher{js: js, config: cfg}, nil
}

// StreamConfig is the stream room events are kept in. Old events of a room
// make way for new ones of the same type.
func (c JetStreamConfig) StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:              c.StreamName,
		Description:       "Artphone room events keyed by room code",
		Subjects:          []string{c.StreamSubjects()},
		Retention:         jetstream.LimitsPolicy,
		Discard:           jetstream.DiscardOld,
		MaxAge:            c.RoomRetention,
		MaxMsgsPerSubject: c.EventsPerRoomType,
		Storage:           jetstream.FileStorage,
		Replicas:          c.Replicas,
		Duplicates:        c.DuplicateWindow,
	}
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	if event.RoomCode == "" {
		return fmt.Errorf("event %s has no room code", event.ID)
	}
	subject := p.config.Subject(event.RoomCode, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{event.Type},
			"Room-Code":  []string{event.RoomCode},
		},
	},
		jetstream.WithMsgID(event.ID.String()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	if ack.Duplicate {
		log.Debug().
			Str("subject", subject).
			Str("event_id", event.ID.String()).
			Msg("event already published by another host")
		return nil
	}
	log.Debug().
		Str("subject", subject).
		Str("event_id", event.ID.String()).
		Uint64("sequence", ack.Sequence).
		Msg("published room event")
	return nil
}
