// ABOUTME: In-memory fan-out of engine events to live-view subscribers
// ABOUTME: Non-blocking publish; slow subscribers lose events rather than stall a turn

package combat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventKind identifies an engine event.
type EventKind string

const (
	// EventMessage carries a newly appended message.
	EventMessage EventKind = "message"
	// EventPartial carries the accumulated in-flight text of the current turn.
	EventPartial EventKind = "partial"
	// EventPhase reports a phase change.
	EventPhase EventKind = "phase"
	// EventError reports the error that stopped the session.
	EventError EventKind = "error"
)

// Event is one change to the live view.
type Event struct {
	Kind    EventKind
	Message *Message
	Side    Side // side being streamed, set on EventPartial
	Text    string
	Phase   Phase
	Round   int
	Err     error
}

// EventBroadcaster provides in-memory pub/sub for engine events.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and id. The
// subscription is removed when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers. Events are dropped for
// subscribers whose channels are full.
func (b *EventBroadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"sub_id", id,
				"kind", event.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes all subscriber channels. Later subscriptions receive a closed channel.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}
