// ABOUTME: Append-only message log for a combat session
// ABOUTME: Speakers are derived from position, never stored alongside the message

package combat

import (
	"slices"

	"github.com/2389/coven-combat/internal/media"
)

// Message is a read-only view of one log entry.
type Message struct {
	Index     int           `json:"index"`
	Speaker   Side          `json:"speaker"`
	PlainText string        `json:"plain_text"`
	Display   media.Content `json:"display"`
}

type logEntry struct {
	plainText string
	display   media.Content
}

// MessageLog is the ordered record of a session. Entries are never changed
// once appended.
type MessageLog struct {
	starting Side
	entries  []logEntry
}

// NewMessageLog creates an empty log whose first entry belongs to starting.
func NewMessageLog(starting Side) *MessageLog {
	return &MessageLog{starting: starting}
}

// StartingSide returns the side that owns position 0.
func (l *MessageLog) StartingSide() Side {
	return l.starting
}

// Append adds a message and returns its view.
func (l *MessageLog) Append(plainText string, display media.Content) Message {
	l.entries = append(l.entries, logEntry{
		plainText: plainText,
		display:   slices.Clone(display),
	})
	return l.view(len(l.entries) - 1)
}

// Len returns the number of messages.
func (l *MessageLog) Len() int {
	return len(l.entries)
}

// At returns the message at position i.
func (l *MessageLog) At(i int) (Message, bool) {
	if i < 0 || i >= len(l.entries) {
		return Message{}, false
	}
	return l.view(i), true
}

// Last returns the most recent message.
func (l *MessageLog) Last() (Message, bool) {
	return l.At(len(l.entries) - 1)
}

// All returns every message in order.
func (l *MessageLog) All() []Message {
	out := make([]Message, len(l.entries))
	for i := range l.entries {
		out[i] = l.view(i)
	}
	return out
}

func (l *MessageLog) view(i int) Message {
	e := l.entries[i]
	return Message{
		Index:     i,
		Speaker:   SpeakerAt(l.starting, i),
		PlainText: e.plainText,
		Display:   slices.Clone(e.display),
	}
}
