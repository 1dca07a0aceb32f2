package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/presence"
	"github.com/mcdev12/artphone/go/internal/room"
	"github.com/mcdev12/artphone/go/internal/store"
)

// Hooks observe a participant. Both are called from the participant loop.
type Hooks struct {
	OnView    func(v *room.View)
	OnPenalty func(round, previous, current int)
}

// Participant is the runtime of one player in one room. All store and
// presence callbacks are funnelled into a single loop, so the view, the host
// decision and the controllers are only touched from there.
type Participant struct {
	eng      *Engine
	code     string
	playerID string
	hooks    Hooks

	changes chan struct{}

	mu        sync.Mutex
	view      *room.View
	lastRound int
	lastTimer *int
	host      *hostControllers
}

type hostControllers struct {
	cancel      context.CancelFunc
	done        sync.WaitGroup
	progression *Progression
	timer       *Timer
}

func NewParticipant(eng *Engine, code, playerID string, hooks Hooks) *Participant {
	return &Participant{
		eng:      eng,
		code:     code,
		playerID: playerID,
		hooks:    hooks,
		changes:  make(chan struct{}, 1),
	}
}

// Run follows the room until ctx is done. Subscriptions and host loops are
// released before it returns.
func (p *Participant) Run(ctx context.Context) error {
	unsubState, err := p.eng.store.Subscribe(ctx, store.RoomPath(p.code), func(store.Change) { p.poke() })
	if err != nil {
		return fmt.Errorf("failed to subscribe to room: %w", err)
	}
	defer unsubState()

	unsubPresence, err := p.eng.presence.Subscribe(ctx, p.code, func(presence.Update) { p.poke() })
	if err != nil {
		return fmt.Errorf("failed to subscribe to presence: %w", err)
	}
	defer unsubPresence()
	defer p.stopHost()

	p.poke()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.changes:
			p.refresh(ctx)
		}
	}
}

// poke coalesces change notifications; one pending refresh is enough.
func (p *Participant) poke() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

// retryAfter schedules another refresh when no store change may come to
// trigger one.
func (p *Participant) retryAfter(ctx context.Context, d time.Duration) {
	p.eng.clock.AfterFunc(d, func() {
		if ctx.Err() == nil {
			p.poke()
		}
	})
}

func (p *Participant) refresh(ctx context.Context) {
	v, err := p.eng.rooms.Load(ctx, p.code)
	if err != nil {
		log.Error().Err(err).Str("room_code", p.code).Str("player_id", p.playerID).Msg("failed to load room, retrying")
		p.retryAfter(ctx, p.eng.policy.TickInterval)
		return
	}

	p.mu.Lock()
	p.view = v
	p.mu.Unlock()

	p.detectPenalty(v)
	if p.hooks.OnView != nil {
		p.hooks.OnView(v)
	}

	shouldHost := v.Phase() == room.PhasePlaying && v.IsHost(p.playerID)
	switch {
	case shouldHost && p.currentHost() == nil:
		p.startHost(ctx, v)
	case !shouldHost && p.currentHost() != nil:
		p.stopHost()
	}

	if h := p.currentHost(); h != nil {
		h.progression.Observe(ctx, v)
		h.timer.ObserveSubmissions(ctx, v)
	}
}

func (p *Participant) detectPenalty(v *room.View) {
	timer := v.Room.Timer
	defer func() {
		p.lastRound = v.Room.Round
		p.lastTimer = timer
	}()
	if timer == nil || p.lastTimer == nil || p.lastRound != v.Room.Round {
		return
	}
	if p.eng.policy.IsPenalty(*p.lastTimer, *timer) {
		log.Debug().
			Str("room_code", p.code).
			Int("round", v.Room.Round).
			Int("previous", *p.lastTimer).
			Int("current", *timer).
			Msg("timer penalty")
		if p.hooks.OnPenalty != nil {
			p.hooks.OnPenalty(v.Room.Round, *p.lastTimer, *timer)
		}
	}
}

func (p *Participant) startHost(ctx context.Context, v *room.View) {
	hostCtx, cancel := context.WithCancel(ctx)
	h := &hostControllers{
		cancel:      cancel,
		progression: NewProgression(p.eng, p.code),
		timer:       NewTimer(p.eng, p.code),
	}
	enforcer := NewEnforcer(p.eng, p.code)

	h.done.Add(1)
	go func() {
		defer h.done.Done()
		enforcer.Run(hostCtx)
	}()
	if v.Room.Settings.Dynamic() {
		h.done.Add(1)
		go func() {
			defer h.done.Done()
			h.timer.Run(hostCtx)
		}()
	}

	p.mu.Lock()
	p.host = h
	p.mu.Unlock()

	log.Info().
		Str("room_code", p.code).
		Str("player_id", p.playerID).
		Int("round", v.Room.Round).
		Msg("became host")
}

func (p *Participant) stopHost() {
	p.mu.Lock()
	h := p.host
	p.host = nil
	p.mu.Unlock()
	if h == nil {
		return
	}

	h.cancel()
	h.progression.Stop()
	h.done.Wait()

	log.Info().
		Str("room_code", p.code).
		Str("player_id", p.playerID).
		Msg("host controllers stopped")
}

func (p *Participant) currentHost() *hostControllers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.host
}

// IsHost reports whether host controllers are running for this participant.
func (p *Participant) IsHost() bool {
	return p.currentHost() != nil
}

// View returns the latest view, nil before the first load.
func (p *Participant) View() *room.View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Submit submits the player's page for the current round.
func (p *Participant) Submit(ctx context.Context, value string) (SubmitResult, error) {
	return p.eng.SubmitTurn(ctx, p.code, p.playerID, value)
}
