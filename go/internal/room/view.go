package room

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/rotation"
	"github.com/mcdev12/artphone/go/internal/store"
)

// Phase is the derived screen a room is in.
type Phase string

const (
	PhaseLobby   Phase = "LOBBY"
	PhasePlaying Phase = "PLAYING"
	PhaseGallery Phase = "GALLERY"
)

// View is a consistent read of one room: its top-level state, its players in
// join order with presence merged in, and every notebook written so far.
type View struct {
	Room    models.Room
	Players []models.Player
	Books   map[string]models.Notebook
}

// decodeView builds a View from the leaves listed under the room prefix.
func decodeView(code string, leaves map[string][]byte) (*View, error) {
	v := &View{
		Room:  models.Room{Code: code, Settings: models.DefaultRoomSettings()},
		Books: make(map[string]models.Notebook),
	}
	base := store.RoomPath(code) + "/"
	var found bool

	for path, raw := range leaves {
		rel, ok := strings.CutPrefix(path, base)
		if !ok {
			continue
		}
		var err error
		switch {
		case rel == "status":
			found = true
			err = json.Unmarshal(raw, &v.Room.Status)
		case rel == "round":
			err = json.Unmarshal(raw, &v.Room.Round)
		case rel == "settings":
			err = json.Unmarshal(raw, &v.Room.Settings)
		case rel == "playerOrder":
			err = json.Unmarshal(raw, &v.Room.PlayerOrder)
		case rel == "timer":
			var t int
			if err = json.Unmarshal(raw, &t); err == nil {
				v.Room.Timer = &t
			}
		case strings.HasPrefix(rel, "players/"):
			var p models.Player
			if err = json.Unmarshal(raw, &p); err == nil {
				v.Players = append(v.Players, p)
			}
		case strings.HasPrefix(rel, "books/"):
			owner, round, ok := store.ParsePagePath(code, path)
			if !ok {
				continue
			}
			var p models.Page
			if err = json.Unmarshal(raw, &p); err == nil {
				if v.Books[owner] == nil {
					v.Books[owner] = make(models.Notebook)
				}
				v.Books[owner][round] = p
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	if !found {
		return nil, ErrRoomNotFound
	}

	sort.SliceStable(v.Players, func(i, j int) bool {
		if v.Players[i].JoinedAt != v.Players[j].JoinedAt {
			return v.Players[i].JoinedAt < v.Players[j].JoinedAt
		}
		return v.Players[i].ID < v.Players[j].ID
	})
	for _, id := range v.Room.PlayerOrder {
		if v.Books[id] == nil {
			v.Books[id] = make(models.Notebook)
		}
	}
	return v, nil
}

// WithPresence returns a copy of the view whose players carry presence.
func (v *View) WithPresence(presence map[string]models.Presence) *View {
	out := *v
	out.Players = make([]models.Player, len(v.Players))
	for i, p := range v.Players {
		if pr, ok := presence[p.ID]; ok {
			p.Presence = &pr
		} else {
			p.Presence = nil
		}
		out.Players[i] = p
	}
	return &out
}

// N is the number of players in the fixed play order.
func (v *View) N() int {
	return len(v.Room.PlayerOrder)
}

// Player returns the player with id.
func (v *View) Player(id string) (models.Player, bool) {
	for _, p := range v.Players {
		if p.ID == id {
			return p, true
		}
	}
	return models.Player{}, false
}

// Host returns the id of the earliest-joined player who is online. When
// nobody is online the earliest-joined player is returned so direct actions
// still have an arbiter; no host loops run in that case anyway.
func (v *View) Host() string {
	for _, p := range v.Players {
		if p.Presence != nil && p.Presence.Online() {
			return p.ID
		}
	}
	if len(v.Players) > 0 {
		return v.Players[0].ID
	}
	return ""
}

// IsHost reports whether playerID is the host and currently online.
func (v *View) IsHost(playerID string) bool {
	p, ok := v.Player(playerID)
	if !ok || p.Presence == nil || !p.Presence.Online() {
		return false
	}
	return v.Host() == playerID
}

// Phase derives the room phase. GALLERY is reached once round >= N.
func (v *View) Phase() Phase {
	switch v.Room.Status {
	case models.RoomStatusLobby, "":
		return PhaseLobby
	case models.RoomStatusGallery:
		return PhaseGallery
	}
	if v.N() > 0 && v.Room.Round >= v.N() {
		return PhaseGallery
	}
	return PhasePlaying
}

// Finished reports whether the game has no rounds left.
func (v *View) Finished() bool {
	return v.Phase() == PhaseGallery
}

// slotOwner returns the owner of the notebook player i fills in round.
func (v *View) slotOwner(round, i int) string {
	return v.Room.PlayerOrder[rotation.OwnerOf(round, i, v.N())]
}

// Filled reports whether the slot playerID is designated to fill in round
// holds a page.
func (v *View) Filled(playerID string, round int) bool {
	i := rotation.IndexOf(v.Room.PlayerOrder, playerID)
	if i < 0 {
		return false
	}
	_, ok := v.Books[v.slotOwner(round, i)][round]
	return ok
}

// Pending returns, in play order, the players whose slot for round is empty.
func (v *View) Pending(round int) []string {
	var out []string
	for i, id := range v.Room.PlayerOrder {
		if _, ok := v.Books[v.slotOwner(round, i)][round]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// SubmittedCount counts the filled slots of round.
func (v *View) SubmittedCount(round int) int {
	return v.N() - len(v.Pending(round))
}

// RingComplete reports whether every notebook has its page for round.
func (v *View) RingComplete(round int) bool {
	return v.N() > 0 && v.SubmittedCount(round) == v.N()
}

// Assignment resolves what playerID works on in the current round.
func (v *View) Assignment(playerID string) (rotation.Assignment, bool) {
	return rotation.Assign(v.Room.PlayerOrder, playerID, v.Room.Round, v.Room.Settings.StartMode)
}

// PreviousPage returns the page the assignment reads, if any.
func (v *View) PreviousPage(a rotation.Assignment) (models.Page, bool) {
	if a.ReadRound < 0 {
		return models.Page{}, false
	}
	p, ok := v.Books[a.OwnerID][a.ReadRound]
	return p, ok
}

// GalleryPage is one step of a notebook chain.
type GalleryPage struct {
	Round      int
	Page       models.Page
	AuthorName string
}

// GalleryBook is the finished chain of one notebook.
type GalleryBook struct {
	OwnerID   string
	OwnerName string
	Pages     []GalleryPage
}

// Gallery returns every notebook in play order with pages in round order.
func (v *View) Gallery() []GalleryBook {
	names := make(map[string]string, len(v.Players))
	for _, p := range v.Players {
		names[p.ID] = p.Name
	}
	nameOf := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return "Unknown"
	}

	owners := append([]string(nil), v.Room.PlayerOrder...)
	if len(owners) == 0 {
		for _, p := range v.Players {
			owners = append(owners, p.ID)
		}
	}

	books := make([]GalleryBook, 0, len(owners))
	for _, owner := range owners {
		nb := v.Books[owner]
		rounds := make([]int, 0, len(nb))
		for r := range nb {
			rounds = append(rounds, r)
		}
		sort.Ints(rounds)

		book := GalleryBook{OwnerID: owner, OwnerName: nameOf(owner)}
		for _, r := range rounds {
			page := nb[r]
			book.Pages = append(book.Pages, GalleryPage{
				Round:      r,
				Page:       page,
				AuthorName: nameOf(page.Author),
			})
		}
		books = append(books, book)
	}
	return books
}
