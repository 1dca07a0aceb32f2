package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/config"
	"github.com/mcdev12/artphone/go/internal/dbconfig"
	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/gateway"
	"github.com/mcdev12/artphone/go/internal/ledger"
	"github.com/mcdev12/artphone/go/internal/presence"
	"github.com/mcdev12/artphone/go/internal/room"
	"github.com/mcdev12/artphone/go/internal/session"
	"github.com/mcdev12/artphone/go/internal/store"
	"github.com/mcdev12/artphone/go/internal/store/pgstore"
)

type Services struct {
	Rooms       *room.Service
	Engine      *session.Engine
	Connections *gateway.ConnectionManager
	RoomService *gateway.RoomService

	// background loops started by runServer
	workers []func(ctx context.Context) error
	closers []func() error
}

// Close releases backend connections in reverse order of creation.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func setupServices(ctx context.Context, cfg config.AppConfig) (*Services, error) {
	// Wire up dependency injection chain
	// Backends → Room service → Session engine → Gateway
	s := &Services{}
	clock := clockwork.NewRealClock()

	policy := session.DefaultPolicy()
	if cfg.PolicyPath != "" {
		var err error
		if policy, err = session.LoadPolicy(cfg.PolicyPath); err != nil {
			return nil, err
		}
	}

	st, err := s.setupStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	tracker, err := s.setupPresence(ctx, cfg, clock)
	if err != nil {
		s.Close()
		return nil, err
	}
	publisher, jsCfg, nc, err := s.setupEvents(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Rooms = room.NewService(st, tracker, publisher, clock)
	s.Engine = session.NewEngine(st, tracker, s.Rooms, ledger.New(st), clock, policy)
	s.Connections = gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), s.Rooms, s.Engine, tracker)
	s.RoomService = gateway.NewRoomService(s.Rooms, s.Engine)

	s.workers = append(s.workers, func(ctx context.Context) error {
		s.Connections.Start(ctx)
		return nil
	})
	if nc != nil {
		consumer, err := gateway.NewEventConsumer(nc, s.Connections, jsCfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.workers = append(s.workers, consumer.Start)
	}

	log.Info().
		Str("store", cfg.StoreBackend).
		Str("presence", cfg.PresenceBackend).
		Str("events", cfg.EventsBackend).
		Dur("grace_delay", policy.GraceDelay).
		Msg("services ready")
	return s, nil
}

func (s *Services) setupStore(ctx context.Context, cfg config.AppConfig) (store.Store, error) {
	if cfg.StoreBackend != config.StorePostgres {
		return store.NewMemory(), nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	pgCfg := pgstore.DefaultConfig()
	pgCfg.DatabaseURL = dbCfg.DSN()
	st, err := pgstore.Open(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	log.Info().Str("database", dbCfg.String()).Msg("connected to database")

	s.workers = append(s.workers, st.Run)
	s.closers = append(s.closers, st.Close)
	return st, nil
}

func (s *Services) setupPresence(ctx context.Context, cfg config.AppConfig, clock clockwork.Clock) (presence.Tracker, error) {
	if cfg.PresenceBackend != config.PresenceRedis {
		return presence.NewMemory(clock), nil
	}

	tracker := presence.NewRedisTracker(presence.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, clock)
	if err := tracker.Ping(ctx); err != nil {
		_ = tracker.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	s.closers = append(s.closers, tracker.Close)
	return tracker, nil
}

// setupEvents returns the publisher, and for the nats backend the stream
// config and connection the gateway consumer reuses.
func (s *Services) setupEvents(ctx context.Context, cfg config.AppConfig) (events.Publisher, events.JetStreamConfig, *nats.Conn, error) {
	jsCfg := events.DefaultJetStreamConfig()
	if cfg.EventsBackend != config.EventsNATS {
		return events.LogPublisher{}, jsCfg, nil, nil
	}

	jsCfg.URL = cfg.NATSURL
	jsCfg.StreamName = cfg.NATSStream
	jsCfg.SubjectPrefix = cfg.NATSSubjectPrefix

	nc, err := events.Connect(jsCfg)
	if err != nil {
		return nil, jsCfg, nil, err
	}
	s.closers = append(s.closers, nc.Drain)

	publisher, err := events.NewJetStreamPublisher(ctx, nc, jsCfg)
	if err != nil {
		return nil, jsCfg, nil, err
	}
	log.Info().Str("url", jsCfg.URL).Str("stream", jsCfg.StreamName).Msg("publishing events to JetStream")
	return publisher, jsCfg, nc, nil
}
