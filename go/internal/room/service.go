// Package room implements the room state machine: lobby membership,
// settings, game start and the conditional round and timer writes the host
// controllers make.
package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/presence"
	"github.com/mcdev12/artphone/go/internal/store"
)

type Service struct {
	store     store.Store
	presence  presence.Tracker
	publisher events.Publisher
	clock     clockwork.Clock
	shuffle   func([]string)
}

type Option func(*Service)

// WithShuffle replaces the random play order shuffle.
func WithShuffle(fn func([]string)) Option {
	return func(s *Service) { s.shuffle = fn }
}

func NewService(st store.Store, tracker presence.Tracker, publisher events.Publisher, clock clockwork.Clock, opts ...Option) *Service {
	s := &Service{
		store:     st,
		presence:  tracker,
		publisher: publisher,
		clock:     clock,
		shuffle: func(ids []string) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom initializes an empty lobby. An existing room is never reset.
func (s *Service) CreateRoom(ctx context.Context, code string) (string, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return "", err
	}

	writes := map[string][]byte{
		store.StatusPath(code):      store.MustMarshal(models.RoomStatusLobby),
		store.RoundPath(code):       store.MustMarshal(0),
		store.SettingsPath(code):    store.MustMarshal(models.DefaultRoomSettings()),
		store.PlayerCountPath(code): store.MustMarshal(0),
	}
	ok, err := s.store.Update(ctx, writes, store.Absent(store.StatusPath(code)))
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	if !ok {
		return "", ErrRoomExists
	}

	log.Info().Str("room_code", code).Msg("room created")
	s.publish(ctx, events.TypeRoomCreated, code, "created", events.RoomCreatedPayload{
		RoomCode:  code,
		CreatedAt: s.clock.Now(),
	})
	return code, nil
}

// Join adds playerID to the lobby. The player record is written once, so a
// player who joins again keeps their original join time. Outside the lobby
// only existing members may join, which resumes their session.
func (s *Service) Join(ctx context.Context, code, playerID, name string) (models.Player, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return models.Player{}, err
	}
	name, err = NormalizeName(name)
	if err != nil {
		return models.Player{}, err
	}
	if playerID == "" {
		return models.Player{}, ErrPlayerIDRequired
	}

	for attempt := 0; attempt < maxLobbyAttempts; attempt++ {
		player, created, err := s.tryJoin(ctx, code, playerID, name)
		if errors.Is(err, errLobbyChanged) {
			continue
		}
		if err != nil || !created {
			return player, err
		}

		log.Info().
			Str("room_code", code).
			Str("player_id", playerID).
			Msg("player joined")
		s.publish(ctx, events.TypePlayerJoined, code, playerID, events.PlayerJoinedPayload{
			PlayerID: player.ID,
			Name:     player.Name,
			JoinedAt: player.JoinedAt,
		})
		return player, nil
	}
	return models.Player{}, fmt.Errorf("%w: lobby of %s kept changing", store.ErrUnavailable, code)
}

// tryJoin makes one attempt at adding playerID. created is false when the
// player was already a member.
func (s *Service) tryJoin(ctx context.Context, code, playerID, name string) (models.Player, bool, error) {
	v, err := s.LoadState(ctx, code)
	if err != nil {
		return models.Player{}, false, err
	}
	if existing, ok := v.Player(playerID); ok {
		return existing, false, nil
	}
	if v.Phase() != PhaseLobby {
		return models.Player{}, false, ErrGameInProgress
	}

	player := models.Player{
		ID:       playerID,
		Name:     name,
		Avatar:   avatarFor(name),
		JoinedAt: s.clock.Now().UnixMilli(),
	}
	path := store.PlayerPath(code, playerID)
	countPath := store.PlayerCountPath(code)
	ok, err := s.store.Update(ctx,
		map[string][]byte{
			path:      store.MustMarshal(player),
			countPath: store.MustMarshal(len(v.Players) + 1),
		},
		store.Absent(path),
		store.Equals(store.StatusPath(code), models.RoomStatusLobby),
		store.Equals(countPath, len(v.Players)),
	)
	if err != nil {
		return models.Player{}, false, fmt.Errorf("failed to join room: %w", err)
	}
	if !ok {
		// another join, our own earlier join or the start got there first
		return models.Player{}, false, errLobbyChanged
	}
	return player, true, nil
}

// UpdateSettings replaces the room settings. Host only, lobby only.
func (s *Service) UpdateSettings(ctx context.Context, code, actorID string, settings models.RoomSettings) error {
	code, err := NormalizeCode(code)
	if err != nil {
		return err
	}
	if err := ValidateSettings(settings); err != nil {
		return err
	}

	v, err := s.Load(ctx, code)
	if err != nil {
		return err
	}
	if v.Phase() != PhaseLobby {
		return ErrGameInProgress
	}
	if v.Host() != actorID {
		return ErrNotHost
	}

	ok, err := s.store.Update(ctx,
		map[string][]byte{store.SettingsPath(code): store.MustMarshal(settings)},
		store.Equals(store.StatusPath(code), models.RoomStatusLobby),
	)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if !ok {
		return ErrGameInProgress
	}
	return nil
}

// StartGame moves the lobby to PLAYING with a shuffled play order. Host only.
// The start is guarded on the player count it read, so a join landing in
// between makes it re-read the lobby instead of leaving that player unseated.
func (s *Service) StartGame(ctx context.Context, code, actorID string) ([]string, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxLobbyAttempts; attempt++ {
		order, settings, err := s.tryStart(ctx, code, actorID)
		if errors.Is(err, errLobbyChanged) {
			continue
		}
		if err != nil {
			return nil, err
		}

		log.Info().
			Str("room_code", code).
			Int("players", len(order)).
			Str("timer_mode", string(settings.TimerMode)).
			Msg("game started")
		s.publish(ctx, events.TypeGameStarted, code, "started", events.GameStartedPayload{
			PlayerOrder: order,
			TimerMode:   string(settings.TimerMode),
			StartMode:   string(settings.StartMode),
			BaseTimeSec: settings.BaseTimeSec,
			StartedAt:   s.clock.Now(),
		})
		return order, nil
	}
	return nil, fmt.Errorf("%w: lobby of %s kept changing", store.ErrUnavailable, code)
}

func (s *Service) tryStart(ctx context.Context, code, actorID string) ([]string, models.RoomSettings, error) {
	v, err := s.Load(ctx, code)
	if err != nil {
		return nil, models.RoomSettings{}, err
	}
	settings := v.Room.Settings
	if v.Phase() != PhaseLobby {
		return nil, settings, ErrGameInProgress
	}
	if v.Host() != actorID {
		return nil, settings, ErrNotHost
	}
	if len(v.Players) < 2 {
		return nil, settings, ErrNotEnoughPlayers
	}

	order := make([]string, len(v.Players))
	for i, p := range v.Players {
		order[i] = p.ID
	}
	s.shuffle(order)

	writes := map[string][]byte{
		store.StatusPath(code):      store.MustMarshal(models.RoomStatusPlaying),
		store.RoundPath(code):       store.MustMarshal(0),
		store.PlayerOrderPath(code): store.MustMarshal(order),
		store.TimerPath(code):       nil,
	}
	if settings.Dynamic() {
		writes[store.TimerPath(code)] = store.MustMarshal(settings.BaseTimeSec)
	}

	ok, err := s.store.Update(ctx, writes,
		store.Equals(store.StatusPath(code), models.RoomStatusLobby),
		store.Equals(store.PlayerCountPath(code), len(v.Players)),
	)
	if err != nil {
		return nil, settings, fmt.Errorf("failed to start game: %w", err)
	}
	if !ok {
		// either the game started meanwhile or someone joined; the next
		// attempt tells them apart
		return nil, settings, errLobbyChanged
	}
	return order, settings, nil
}

// Load reads the whole room and merges in current presence.
func (s *Service) Load(ctx context.Context, code string) (*View, error) {
	v, err := s.LoadState(ctx, code)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.presence.Snapshot(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	return v.WithPresence(snapshot), nil
}

// LoadState reads the whole room without presence.
func (s *Service) LoadState(ctx context.Context, code string) (*View, error) {
	leaves, err := s.store.List(ctx, store.RoomPath(code))
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	return decodeView(code, leaves)
}

// AdvanceRound moves the room from round from to from+1 if it is still at
// from. In DYNAMIC mode the same write resets the timer; the last advance
// clears it and marks the room as finished. It reports whether this call
// made the transition.
func (s *Service) AdvanceRound(ctx context.Context, v *View, from int) (bool, error) {
	code := v.Room.Code
	to := from + 1
	writes := map[string][]byte{
		store.RoundPath(code): store.MustMarshal(to),
	}
	switch {
	case to >= v.N():
		writes[store.StatusPath(code)] = store.MustMarshal(models.RoomStatusGallery)
		writes[store.TimerPath(code)] = nil
	case v.Room.Settings.Dynamic():
		writes[store.TimerPath(code)] = store.MustMarshal(v.Room.Settings.BaseTimeSec)
	}

	ok, err := s.store.Update(ctx, writes, store.Equals(store.RoundPath(code), from))
	if err != nil {
		return false, fmt.Errorf("failed to advance round: %w", err)
	}
	return ok, nil
}

// SetTimer moves the countdown of round from one value to another if neither
// the round nor the timer changed in between.
func (s *Service) SetTimer(ctx context.Context, code string, round, from, to int) (bool, error) {
	ok, err := s.store.Update(ctx,
		map[string][]byte{store.TimerPath(code): store.MustMarshal(to)},
		store.Equals(store.RoundPath(code), round),
		store.Equals(store.TimerPath(code), from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set timer: %w", err)
	}
	return ok, nil
}

// Publish sends a domain event for the room. Delivery failures are logged,
// they never fail the state change that caused them.
func (s *Service) Publish(ctx context.Context, eventType, code, key string, payload any) {
	s.publish(ctx, eventType, code, key, payload)
}

func (s *Service) publish(ctx context.Context, eventType, code, key string, payload any) {
	if s.publisher == nil {
		return
	}
	ev, err := events.New(eventType, code, key, payload, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to build event")
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().
			Err(err).
			Str("room_code", code).
			Str("event_type", eventType).
			Msg("failed to publish event")
	}
}
