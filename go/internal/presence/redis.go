package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/models"
)

// RedisTracker keeps presence in one hash per room and publishes each
// transition on a per-room channel, so every gateway node sees all sockets.
type RedisTracker struct {
	client *redis.Client
	clock  clockwork.Clock
}

// RedisConfig holds the connection settings of the presence Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisTracker(cfg RedisConfig, clock clockwork.Clock) *RedisTracker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisTracker{client: rdb, clock: clock}
}

var _ Tracker = (*RedisTracker)(nil)

func roomKey(code string) string {
	return fmt.Sprintf("presence:room:%s", code)
}

func changesChannel(code string) string {
	return roomKey(code) + ":changes"
}

type redisUpdate struct {
	PlayerID string          `json:"player_id"`
	Presence models.Presence `json:"presence"`
}

func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func (t *RedisTracker) Set(ctx context.Context, code, playerID string, state models.PresenceState) error {
	key := roomKey(code)

	current, err := t.client.HGet(ctx, key, playerID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read presence: %w", err)
	}
	if err == nil {
		var p models.Presence
		if json.Unmarshal([]byte(current), &p) == nil && p.State == state {
			return nil
		}
	}

	p := models.Presence{State: state, LastChanged: t.clock.Now()}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(redisUpdate{PlayerID: playerID, Presence: p})
	if err != nil {
		return err
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, playerID, data)
		pipe.Publish(ctx, changesChannel(code), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

func (t *RedisTracker) Snapshot(ctx context.Context, code string) (map[string]models.Presence, error) {
	raw, err := t.client.HGetAll(ctx, roomKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}

	out := make(map[string]models.Presence, len(raw))
	for id, v := range raw {
		var p models.Presence
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			log.Warn().Err(err).Str("room_code", code).Str("player_id", id).Msg("skipping malformed presence")
			continue
		}
		out[id] = p
	}
	return out, nil
}

func (t *RedisTracker) Subscribe(ctx context.Context, code string, fn func(Update)) (func(), error) {
	pubsub := t.client.Subscribe(ctx, changesChannel(code))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to presence: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var u redisUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				log.Warn().Err(err).Str("room_code", code).Msg("malformed presence update")
				continue
			}
			fn(Update{RoomCode: code, PlayerID: u.PlayerID, Presence: u.Presence})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				log.Warn().Err(err).Str("room_code", code).Msg("failed to close presence subscription")
			}
			<-done
		})
	}, nil
}
