// Package session runs a room on behalf of one connected player: it follows
// the shared state, decides whether the player is host and, while it is,
// runs the progression, timer and disconnect controllers.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/ledger"
	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/presence"
	"github.com/mcdev12/artphone/go/internal/room"
	"github.com/mcdev12/artphone/go/internal/rotation"
	"github.com/mcdev12/artphone/go/internal/store"
)

var (
	ErrNotInGame       = errors.New("player is not in a running game")
	ErrEmptySubmission = errors.New("submission is empty")
)

// Engine bundles what participants and controllers share.
type Engine struct {
	store    store.Store
	presence presence.Tracker
	rooms    *room.Service
	ledger   *ledger.Ledger
	clock    clockwork.Clock
	policy   Policy
}

func NewEngine(st store.Store, tracker presence.Tracker, rooms *room.Service, l *ledger.Ledger, clock clockwork.Clock, policy Policy) *Engine {
	return &Engine{
		store:    st,
		presence: tracker,
		rooms:    rooms,
		ledger:   l,
		clock:    clock,
		policy:   policy,
	}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// SubmitResult describes the outcome of a turn submission.
type SubmitResult struct {
	Assignment rotation.Assignment
	Page       models.Page
	// Accepted is false when the slot was already filled or the round moved
	// on; the submission is then dropped without error.
	Accepted bool
}

// SubmitTurn writes playerID's page for the current round into the notebook
// the rotation assigns them.
func (e *Engine) SubmitTurn(ctx context.Context, code, playerID, value string) (SubmitResult, error) {
	if strings.TrimSpace(value) == "" {
		return SubmitResult{}, ErrEmptySubmission
	}

	v, err := e.rooms.LoadState(ctx, code)
	if err != nil {
		return SubmitResult{}, err
	}
	if v.Phase() != room.PhasePlaying {
		return SubmitResult{}, ErrNotInGame
	}
	a, ok := v.Assignment(playerID)
	if !ok {
		return SubmitResult{}, ErrNotInGame
	}

	page := models.Page{
		Type:   rotation.PageTypeFor(a.Round, v.Room.Settings.StartMode),
		Value:  value,
		Author: playerID,
	}
	accepted, err := e.ledger.Submit(ctx, code, a.Round, a.OwnerID, page)
	if err != nil {
		return SubmitResult{}, err
	}

	if accepted {
		log.Info().
			Str("room_code", code).
			Str("player_id", playerID).
			Str("owner_id", a.OwnerID).
			Int("round", a.Round).
			Str("page_type", string(page.Type)).
			Msg("page submitted")
		e.rooms.Publish(ctx, events.TypePageSubmitted, code, pageKey(a.Round, a.OwnerID), events.PageSubmittedPayload{
			Round:    a.Round,
			OwnerID:  a.OwnerID,
			AuthorID: playerID,
			PageType: string(page.Type),
		})
	}
	return SubmitResult{Assignment: a, Page: page, Accepted: accepted}, nil
}

// advance moves the room past round from and announces it if this call made
// the transition.
func (e *Engine) advance(ctx context.Context, v *room.View, from int, reason string) error {
	ok, err := e.rooms.AdvanceRound(ctx, v, from)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug().
			Str("room_code", v.Room.Code).
			Int("round", from).
			Msg("round already advanced")
		return nil
	}

	finished := from+1 >= v.N()
	log.Info().
		Str("room_code", v.Room.Code).
		Int("from_round", from).
		Str("reason", reason).
		Bool("finished", finished).
		Msg("round advanced")
	e.rooms.Publish(ctx, events.TypeRoundAdvanced, v.Room.Code, strconv.Itoa(from), events.RoundAdvancedPayload{
		FromRound: from,
		ToRound:   from + 1,
		Reason:    reason,
		Finished:  finished,
	})
	return nil
}

func pageKey(round int, ownerID string) string {
	return fmt.Sprintf("%d:%s", round, ownerID)
}
