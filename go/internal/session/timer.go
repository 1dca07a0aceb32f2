package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/room"
)

// Timer drives the shared countdown of a DYNAMIC room. Each tick takes a
// second off; reaching zero forces the round forward. Every new submission
// in the round shortens what is left.
type Timer struct {
	eng  *Engine
	code string

	mu      sync.Mutex
	started bool
	round   int
	seen    int // submissions already accounted for in round
}

func NewTimer(eng *Engine, code string) *Timer {
	return &Timer{eng: eng, code: code}
}

// Run ticks until ctx is done or the game is over.
func (t *Timer) Run(ctx context.Context) {
	ticker := t.eng.clock.NewTicker(t.eng.policy.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if done := t.Tick(ctx); done {
				log.Debug().Str("room_code", t.code).Msg("timer loop finished")
				return
			}
		}
	}
}

// Tick performs one countdown step. It reports true when the loop should
// stop because the game is over or the room has no timer.
func (t *Timer) Tick(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, err := t.eng.rooms.LoadState(ctx, t.code)
	if err != nil {
		log.Error().Err(err).Str("room_code", t.code).Msg("timer failed to load room")
		return false
	}
	switch {
	case v.Finished():
		return true
	case v.Phase() != room.PhasePlaying:
		return false
	case !v.Room.Settings.Dynamic():
		return true
	case v.Room.Timer == nil:
		log.Warn().Str("room_code", t.code).Msg("dynamic room without timer")
		return false
	}

	r, cur := v.Room.Round, *v.Room.Timer
	next := cur - 1
	if next <= 0 {
		if err := t.eng.advance(ctx, v, r, "timeout"); err != nil {
			log.Error().Err(err).Str("room_code", t.code).Int("round", r).Msg("failed to force advance")
		}
		return false
	}
	if _, err := t.eng.rooms.SetTimer(ctx, t.code, r, cur, next); err != nil {
		log.Error().Err(err).Str("room_code", t.code).Int("round", r).Msg("failed to tick timer")
	}
	return false
}

// ObserveSubmissions shortens the countdown for submissions made since the
// last call. The first call only records a baseline.
func (t *Timer) ObserveSubmissions(ctx context.Context, v *room.View) {
	if !v.Room.Settings.Dynamic() || v.Phase() != room.PhasePlaying {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r := v.Room.Round
	count := v.SubmittedCount(r)
	switch {
	case !t.started:
		t.started, t.round, t.seen = true, r, count
		return
	case r != t.round:
		t.round, t.seen = r, 0
	}
	if count <= t.seen {
		return
	}
	fresh := count - t.seen

	// seen only moves once the reduction is stored; the next observation
	// retries otherwise.
	for attempt := 0; attempt < 2; attempt++ {
		done, err := t.shorten(ctx, r, fresh, count)
		if err != nil {
			log.Error().Err(err).Str("room_code", t.code).Int("round", r).Msg("failed to shorten timer")
			return
		}
		if done {
			t.seen = count
			return
		}
	}
	log.Warn().Str("room_code", t.code).Int("round", r).Msg("timer kept changing, shortening deferred")
}

// shorten applies fresh reductions to the stored countdown of round r. It
// reports false when the guarded write lost to a concurrent change.
func (t *Timer) shorten(ctx context.Context, r, fresh, count int) (bool, error) {
	current, err := t.eng.rooms.LoadState(ctx, t.code)
	if err != nil {
		return false, err
	}
	if current.Room.Round != r || current.Room.Timer == nil {
		// the round moved on, nothing left to shorten
		return true, nil
	}

	cur := *current.Room.Timer
	next := cur
	for i := 0; i < fresh; i++ {
		next = t.eng.policy.ReduceTimer(next)
	}
	if next == cur {
		return true, nil
	}

	ok, err := t.eng.rooms.SetTimer(ctx, t.code, r, cur, next)
	if err != nil || !ok {
		return false, err
	}

	log.Debug().
		Str("room_code", t.code).
		Int("round", r).
		Int("from", cur).
		Int("to", next).
		Msg("timer shortened")
	if t.eng.policy.IsPenalty(cur, next) {
		t.eng.rooms.Publish(ctx, events.TypeTimerPenalty, t.code, strconv.Itoa(r)+":"+strconv.Itoa(count), events.TimerPenaltyPayload{
			Round:    r,
			Previous: cur,
			Current:  next,
		})
	}
	return true, nil
}
