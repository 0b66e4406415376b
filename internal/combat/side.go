// ABOUTME: Participant sides and slot identities for a two-agent session
// ABOUTME: SpeakerAt is the single source of truth for who spoke at a log position

package combat

import (
	"fmt"
	"strings"

	"github.com/2389/coven-combat/internal/stream"
)

// Side is one of the two conversation participants.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side name.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Left {
		return Right
	}
	return Left
}

// Valid reports whether s is Left or Right.
func (s Side) Valid() bool {
	return s == Left || s == Right
}

// ParseSide parses "left" or "right", case-insensitively.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, v)
	}
}

// SpeakerAt returns who spoke at position i of a log that was opened by
// starting: even positions belong to starting, odd ones to the other side.
func SpeakerAt(starting Side, i int) Side {
	if i%2 == 0 {
		return starting
	}
	return starting.Other()
}

// SlotConfig is the UI supplied identity of one participant.
type SlotConfig struct {
	BotID     string
	ModelName string
}

// Slot is a participant for the lifetime of a session.
type Slot struct {
	Side           Side
	BotID          string
	ConversationID string
	ModelName      string
}

func (s Slot) target() stream.Target {
	return stream.Target{
		BotID:          s.BotID,
		ConversationID: s.ConversationID,
		ModelName:      s.ModelName,
	}
}
