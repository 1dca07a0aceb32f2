package store

import (
	"strconv"
	"strings"
)

// RoomPath is the root of everything persisted for a room.
func RoomPath(code string) string { return "rooms/" + code }

func PlayersPath(code string) string { return RoomPath(code) + "/players" }
func PlayerPath(code, id string) string { return PlayersPath(code) + "/" + id }
func SettingsPath(code string) string { return RoomPath(code) + "/settings" }
func StatusPath(code string) string { return RoomPath(code) + "/status" }
func RoundPath(code string) string { return RoomPath(code) + "/round" }
func TimerPath(code string) string { return RoomPath(code) + "/timer" }
func PlayerOrderPath(code string) string { return RoomPath(code) + "/playerOrder" }

// PlayerCountPath counts lobby joins; StartGame guards on it so a late join
// cannot miss the play order.
func PlayerCountPath(code string) string { return RoomPath(code) + "/playerCount" }
func BooksPath(code string) string { return RoomPath(code) + "/books" }
func BookPath(code, ownerID string) string { return BooksPath(code) + "/" + ownerID }

// PagePath addresses the ledger slot of ownerID's notebook for round.
func PagePath(code, ownerID string, round int) string {
	return BookPath(code, ownerID) + "/" + strconv.Itoa(round)
}

// ParsePagePath splits a ledger slot path of room code into owner and round.
func ParsePagePath(code, path string) (string, int, bool) {
	rest, ok := strings.CutPrefix(path, BooksPath(code)+"/")
	if !ok {
		return "", 0, false
	}
	owner, roundStr, ok := strings.Cut(rest, "/")
	if !ok || owner == "" || strings.Contains(roundStr, "/") {
		return "", 0, false
	}
	round, err := strconv.Atoi(roundStr)
	if err != nil || round < 0 {
		return "", 0, false
	}
	return owner, round, true
}

// ParsePlayerPath extracts the player id from a player record path.
func ParsePlayerPath(code, path string) (string, bool) {
	id, ok := strings.CutPrefix(path, PlayersPath(code)+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
