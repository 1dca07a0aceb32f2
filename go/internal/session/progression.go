package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/room"
)

// Progression advances the round once every slot of it is filled. The
// advance waits for the policy grace delay so the last submitter sees their
// page land before the screen changes.
type Progression struct {
	eng  *Engine
	code string

	mu        sync.Mutex
	scheduled int // round with a pending advance, -1 when none
	timer     clockwork.Timer
	stopped   bool
}

func NewProgression(eng *Engine, code string) *Progression {
	return &Progression{eng: eng, code: code, scheduled: -1}
}

// Observe checks the latest view and schedules an advance when the current
// round's ring is complete.
func (p *Progression) Observe(ctx context.Context, v *room.View) {
	if v.Phase() != room.PhasePlaying {
		return
	}
	r := v.Room.Round
	if !v.RingComplete(r) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.scheduled == r {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.scheduled = r

	log.Debug().
		Str("room_code", p.code).
		Int("round", r).
		Dur("grace", p.eng.policy.GraceDelay).
		Msg("ring complete, scheduling advance")

	p.arm(ctx, v, r, p.eng.policy.GraceDelay)
}

// arm schedules the advance of round r after delay. A failed advance is
// retried on the next tick, so a transient store error only delays the round.
// Callers hold p.mu.
func (p *Progression) arm(ctx context.Context, v *room.View, r int, delay time.Duration) {
	p.timer = p.eng.clock.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		err := p.eng.advance(ctx, v, r, "complete")
		if err == nil {
			return
		}
		log.Error().Err(err).Str("room_code", p.code).Int("round", r).Msg("failed to advance round, retrying")

		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.stopped && p.scheduled == r && ctx.Err() == nil {
			p.arm(ctx, v, r, p.eng.policy.TickInterval)
		}
	})
}

// Stop cancels any pending advance. Observe is a no-op afterwards.
func (p *Progression) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
