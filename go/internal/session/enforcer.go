package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/room"
)

// Enforcer fills the slots of players who stay offline while the round
// waits on them, so one dropped connection cannot stall the room.
type Enforcer struct {
	eng  *Engine
	code string

	mu sync.Mutex
	// players pending with no presence record at all, keyed to when the
	// enforcer first noticed them
	unseenSince map[string]time.Time
}

func NewEnforcer(eng *Engine, code string) *Enforcer {
	return &Enforcer{eng: eng, code: code, unseenSince: make(map[string]time.Time)}
}

// Run sweeps until ctx is done or the game is over.
func (e *Enforcer) Run(ctx context.Context) {
	ticker := e.eng.clock.NewTicker(e.eng.policy.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if done := e.Sweep(ctx); done {
				log.Debug().Str("room_code", e.code).Msg("enforcer loop finished")
				return
			}
		}
	}
}

// Sweep skips every pending player who has been offline past the threshold.
// It reports true once the game is over.
func (e *Enforcer) Sweep(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.eng.rooms.Load(ctx, e.code)
	if err != nil {
		log.Error().Err(err).Str("room_code", e.code).Msg("enforcer failed to load room")
		return false
	}
	if v.Finished() {
		return true
	}
	if v.Phase() != room.PhasePlaying {
		return false
	}

	r := v.Room.Round
	pending := v.Pending(r)
	threshold := e.eng.policy.SkipThreshold(len(pending))
	now := e.eng.clock.Now()

	for _, id := range pending {
		since, offline := e.offlineSince(v, id, now)
		if !offline {
			continue
		}
		if gone := now.Sub(since); gone > threshold {
			e.skip(ctx, v, id, gone)
		}
	}
	return false
}

func (e *Enforcer) offlineSince(v *room.View, playerID string, now time.Time) (time.Time, bool) {
	p, ok := v.Player(playerID)
	if ok && p.Presence != nil {
		delete(e.unseenSince, playerID)
		if p.Presence.Online() {
			return time.Time{}, false
		}
		return p.Presence.LastChanged, true
	}
	since, seen := e.unseenSince[playerID]
	if !seen {
		e.unseenSince[playerID] = now
		return now, true
	}
	return since, true
}

func (e *Enforcer) skip(ctx context.Context, v *room.View, playerID string, gone time.Duration) {
	a, ok := v.Assignment(playerID)
	if !ok {
		return
	}

	value, carried := e.eng.policy.SkipPlaceholder, false
	if prev, ok := v.PreviousPage(a); ok {
		value, carried = prev.Value, true
	}
	page := models.Page{Type: models.PageTypeSkipped, Value: value, Author: playerID}

	accepted, err := e.eng.ledger.Submit(ctx, e.code, a.Round, a.OwnerID, page)
	if err != nil {
		log.Error().Err(err).Str("room_code", e.code).Str("player_id", playerID).Msg("failed to skip page")
		return
	}
	if !accepted {
		return
	}

	log.Info().
		Str("room_code", e.code).
		Str("player_id", playerID).
		Str("owner_id", a.OwnerID).
		Int("round", a.Round).
		Dur("offline_for", gone).
		Bool("carried", carried).
		Msg("skipped page of offline player")
	e.eng.rooms.Publish(ctx, events.TypePageSkipped, e.code, pageKey(a.Round, a.OwnerID), events.PageSkippedPayload{
		Round:        a.Round,
		OwnerID:      a.OwnerID,
		PlayerID:     playerID,
		OfflineFor:   gone,
		CarriedValue: carried,
	})
}
