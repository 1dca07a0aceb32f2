// Package rotation computes the ring assignment of notebooks to players.
//
// Every round each player works in the notebook owned by the player r seats
// ahead of them in the fixed play order, reading the page written in the
// previous round and writing the page for the current one.
package rotation

import "github.com/mcdev12/artphone/go/internal/models"

// OwnerOf returns the play-order index of the notebook the player at myIndex
// holds during round.
func OwnerOf(round, myIndex, n int) int {
	if n <= 0 {
		return -1
	}
	idx := (myIndex + round) % n
	if idx < 0 {
		idx += n
	}
	return idx
}

// IsDrawRound reports whether round is a drawing round for the given start mode.
func IsDrawRound(round int, startMode models.StartMode) bool {
	return (startMode == models.StartModeDraw) == (round%2 == 0)
}

// PageTypeFor returns the page type a human submission produces in round.
func PageTypeFor(round int, startMode models.StartMode) models.PageType {
	if IsDrawRound(round, startMode) {
		return models.PageTypeDrawing
	}
	return models.PageTypePrompt
}

// Assignment describes what one player works on in one round.
type Assignment struct {
	Round     int
	OwnerID   string
	ReadRound int // -1 when there is nothing to read
	Draw      bool
}

// Assign resolves the assignment of playerID within order for round. It
// returns false when the player is not part of the order.
func Assign(order []string, playerID string, round int, startMode models.StartMode) (Assignment, bool) {
	myIndex := IndexOf(order, playerID)
	if myIndex < 0 {
		return Assignment{}, false
	}
	owner := order[OwnerOf(round, myIndex, len(order))]
	return Assignment{
		Round:     round,
		OwnerID:   owner,
		ReadRound: round - 1,
		Draw:      IsDrawRound(round, startMode),
	}, true
}

// IndexOf returns the position of playerID in order, or -1.
func IndexOf(order []string, playerID string) int {
	for i, id := range order {
		if id == playerID {
			return i
		}
	}
	return -1
}
