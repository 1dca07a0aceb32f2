package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/sqlutil"
	"github.com/mcdev12/artphone/go/internal/store"
)

type Config struct {
	DatabaseURL   string        // Postgres DSN, also used for LISTEN
	NotifyChannel string        // Channel carrying changed paths
	PingInterval  time.Duration // Keepalive for the listener connection
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel: "room_state",
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

var errGuardFailed = errors.New("guard failed")

// Store keeps room state in Postgres. Every write notifies the changed path
// and a single pq.Listener fans notifications out to subscribers.
type Store struct {
	db       *sql.DB
	queries  *Queries
	listener *pq.Listener
	cfg      Config

	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
}

type subscription struct {
	prefix string
	fn     func(store.Change)
}

var _ store.Store = (*Store)(nil)

// Open connects to Postgres and starts listening on the notify channel.
// Run must be called to deliver notifications.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for state changes")

	return &Store{
		db:       db,
		queries:  New(db),
		listener: l,
		cfg:      cfg,
		subs:     make(map[int]subscription),
	}, nil
}

// Run delivers notifications until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("state listener shutting down")
			return nil
		case note := <-s.listener.Notify:
			if note == nil {
				// connection was re-established, notifications in between are lost
				log.Warn().Msg("state listener reconnected")
				continue
			}
			s.dispatch(ctx, note.Extra)
		case <-pingTicker.C:
			if err := s.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (s *Store) Close() error {
	return errors.Join(s.listener.Close(), s.db.Close())
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	v, err := s.queries.GetValue(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", store.ErrUnavailable, path, err)
	}
	if v == nil {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	out, err := s.queries.ListPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", store.ErrUnavailable, prefix, err)
	}
	return out, nil
}

// Update locks every touched path in a fixed order, checks the guards and
// applies the writes in one transaction.
func (s *Store) Update(ctx context.Context, writes map[string][]byte, guards ...store.Guard) (bool, error) {
	err := sqlutil.Run(ctx, s.db, s.queries.WithTx, func(q *Queries) error {
		for _, path := range lockOrder(writes, guards) {
			if err := q.LockPath(ctx, path); err != nil {
				return fmt.Errorf("lock %s: %w", path, err)
			}
		}

		for _, g := range guards {
			held, err := checkGuard(ctx, q, g)
			if err != nil {
				return err
			}
			if !held {
				return errGuardFailed
			}
		}

		for path, v := range writes {
			var err error
			if v == nil {
				err = q.DeleteValue(ctx, path)
			} else {
				err = q.UpsertValue(ctx, path, v)
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			if err := q.NotifyChange(ctx, s.cfg.NotifyChannel, path); err != nil {
				return fmt.Errorf("notify %s: %w", path, err)
			}
		}
		return nil
	})
	if errors.Is(err, errGuardFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return true, nil
}

func checkGuard(ctx context.Context, q *Queries, g store.Guard) (bool, error) {
	if g.Expect == nil {
		ok, err := q.PathAbsent(ctx, g.Path)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", g.Path, err)
		}
		return ok, nil
	}
	ok, err := q.PathEquals(ctx, g.Path, g.Expect)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", g.Path, err)
	}
	return ok, nil
}

func lockOrder(writes map[string][]byte, guards []store.Guard) []string {
	seen := make(map[string]struct{}, len(writes)+len(guards))
	for path := range writes {
		seen[path] = struct{}{}
	}
	for _, g := range guards {
		seen[g.Path] = struct{}{}
	}
	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (s *Store) Subscribe(ctx context.Context, prefix string, fn func(store.Change)) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = subscription{prefix: prefix, fn: fn}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

// dispatch re-reads the changed path so subscribers always see the latest value.
func (s *Store) dispatch(ctx context.Context, path string) {
	s.mu.RLock()
	var targets []subscription
	for _, sub := range s.subs {
		if store.Matches(path, sub.prefix) {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	value, err := s.queries.GetValue(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to fetch changed path")
		return
	}

	change := store.Change{Path: path, Value: value}
	for _, sub := range targets {
		sub.fn(change)
	}
}
