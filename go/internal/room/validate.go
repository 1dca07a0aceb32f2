package room

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mcdev12/artphone/go/internal/models"
)

const (
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength    = 4
	MaxNameLength = 24
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// NormalizeCode upper-cases and trims code and checks its shape.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return "", ErrInvalidRoomCode
	}
	return code, nil
}

// NormalizeName trims name and checks its length in runes.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// ValidateSettings checks the enum fields and the base time.
func ValidateSettings(s models.RoomSettings) error {
	switch s.TimerMode {
	case models.TimerModeManual, models.TimerModeDynamic:
	default:
		return fmt.Errorf("%w: timer mode %q", ErrInvalidSettings, s.TimerMode)
	}
	switch s.StartMode {
	case models.StartModeWrite, models.StartModeDraw:
	default:
		return fmt.Errorf("%w: start mode %q", ErrInvalidSettings, s.StartMode)
	}
	if s.BaseTimeSec <= 0 {
		return fmt.Errorf("%w: base time must be positive", ErrInvalidSettings)
	}
	return nil
}

// NewCode returns a random room code. Collisions are left to CreateRoom.
// Bytes at or above the largest multiple of the alphabet size are dropped so
// every symbol is equally likely.
func NewCode() (string, error) {
	limit := 256 - 256%len(codeAlphabet)
	code := make([]byte, 0, codeLength)
	buf := make([]byte, 2*codeLength)
	for len(code) < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == codeLength {
				break
			}
		}
	}
	return string(code), nil
}

func avatarFor(name string) string {
	r, _ := utf8.DecodeRuneInString(name)
	return strings.ToUpper(string(r))
}
