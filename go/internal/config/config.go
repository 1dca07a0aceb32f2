// Package config loads the runtime configuration of the artphone server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	envPrefix          = "ARTPHONE"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultLogLevel    = "info"
)

// Backend names.
const (
	StoreMemory      = "memory"
	StorePostgres    = "postgres"
	PresenceMemory   = "memory"
	PresenceRedis    = "redis"
	EventsLog        = "log"
	EventsNATS       = "nats"
	defaultNATSURL   = "nats://127.0.0.1:4222"
	defaultRedisAddr = "localhost:6379"
)

// AppConfig captures runtime configuration for the server.
type AppConfig struct {
	HTTPAddress     string
	LogLevel        string
	ShutdownTimeout time.Duration

	StoreBackend    string
	PresenceBackend string
	EventsBackend   string

	// PolicyPath points at an optional YAML file with session policy.
	PolicyPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL           string
	NATSStream        string
	NATSSubjectPrefix string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings, so ARTPHONE_STORE_BACKEND
// sets store.backend.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", defaultHTTPAddress)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("presence.backend", PresenceMemory)
	v.SetDefault("events.backend", EventsLog)
	v.SetDefault("session.policy_path", "")
	v.SetDefault("redis.addr", defaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", defaultNATSURL)
	v.SetDefault("nats.stream", "ROOM_EVENTS")
	v.SetDefault("nats.subject_prefix", "room.events")
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       v.GetString("http.address"),
		LogLevel:          v.GetString("log.level"),
		ShutdownTimeout:   v.GetDuration("http.shutdown_timeout"),
		StoreBackend:      strings.ToLower(v.GetString("store.backend")),
		PresenceBackend:   strings.ToLower(v.GetString("presence.backend")),
		EventsBackend:     strings.ToLower(v.GetString("events.backend")),
		PolicyPath:        v.GetString("session.policy_path"),
		RedisAddr:         v.GetString("redis.addr"),
		RedisPassword:     v.GetString("redis.password"),
		RedisDB:           v.GetInt("redis.db"),
		NATSURL:           v.GetString("nats.url"),
		NATSStream:        v.GetString("nats.stream"),
		NATSSubjectPrefix: v.GetString("nats.subject_prefix"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Level returns the parsed zerolog level.
func (c AppConfig) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level %q: %w", c.LogLevel, err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be positive")
	}
	switch c.StoreBackend {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreBackend)
	}
	switch c.PresenceBackend {
	case PresenceMemory:
	case PresenceRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("redis.addr is required for the redis presence backend")
		}
	default:
		return fmt.Errorf("presence.backend must be %q or %q, got %q", PresenceMemory, PresenceRedis, c.PresenceBackend)
	}
	switch c.EventsBackend {
	case EventsLog:
	case EventsNATS:
		if strings.TrimSpace(c.NATSURL) == "" || c.NATSStream == "" || c.NATSSubjectPrefix == "" {
			return fmt.Errorf("nats.url, nats.stream and nats.subject_prefix are required for the nats events backend")
		}
	default:
		return fmt.Errorf("events.backend must be %q or %q, got %q", EventsLog, EventsNATS, c.EventsBackend)
	}
	return nil
}
