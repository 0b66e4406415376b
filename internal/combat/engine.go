// ABOUTME: Turn engine that drives two chat agents against each other over the stream transport
// ABOUTME: Explicit task loop with one activation at a time, gated on an active flag and generation

package combat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-combat/internal/media"
	"github.com/2389/coven-combat/internal/stream"
)

const (
	// DefaultMaxRounds is the number of rounds run before asking to continue.
	DefaultMaxRounds = 25
	// DefaultPacingDelay separates consecutive turns.
	DefaultPacingDelay = time.Second
	// DefaultOpeningMessage seeds the log when none is configured.
	DefaultOpeningMessage = "Mày là ai"
)

// Phase is the engine state.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseStreaming       Phase = "streaming"
	PhaseWaitingContinue Phase = "waiting_continue"
	PhaseStopped         Phase = "stopped"
)

// Transport sends one query and streams the reply into h. It must not call
// h after ctx is done.
type Transport interface {
	Send(ctx context.Context, req *stream.Request, h stream.Handler) error
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	MaxRounds      int
	PacingDelay    time.Duration // negative disables pacing
	OpeningMessage string
	// OpeningAttachments go out with the first query after Start.
	OpeningAttachments []stream.Attachment
	// OnError is called, outside the engine lock, with the error that stopped a session.
	OnError func(err error)
	// NewConversationID mints conversation ids. Defaults to random UUIDs.
	NewConversationID func() string
	Logger            *slog.Logger
}

// View is a snapshot of the live session.
type View struct {
	Messages     []Message
	Round        int
	Phase        Phase
	PartialText  string
	Active       bool
	StartingSide Side
	Slots        []Slot
	Err          error // what stopped the session; cleared on the next activation
}

// Engine runs a two-agent conversation. All methods are safe for concurrent use.
type Engine struct {
	transport Transport
	opts      Options
	events    *EventBroadcaster
	logger    *slog.Logger

	mu       sync.Mutex
	log      *MessageLog
	slots    map[Side]Slot
	round    int
	appended int
	active   bool
	phase    Phase
	partial  string
	lastErr  error
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine creates an idle engine.
func NewEngine(transport Transport, opts Options) *Engine {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	switch {
	case opts.PacingDelay == 0:
		opts.PacingDelay = DefaultPacingDelay
	case opts.PacingDelay < 0:
		opts.PacingDelay = 0
	}
	if opts.OpeningMessage == "" {
		opts.OpeningMessage = DefaultOpeningMessage
	}
	if opts.NewConversationID == nil {
		opts.NewConversationID = func() string { return uuid.New().String() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		transport: transport,
		opts:      opts,
		events:    NewEventBroadcaster(logger),
		logger:    logger.With("component", "combat"),
		phase:     PhaseIdle,
	}
}

// Start begins a new session, replacing any previous one. The opening message
// is logged for starting and sent to the other side.
func (e *Engine) Start(starting Side, left, right SlotConfig) error {
	if !starting.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSide, int(starting))
	}
	if left.BotID == "" {
		return fmt.Errorf("%w: left bot_id is required", ErrInvalidSlot)
	}
	if right.BotID == "" {
		return fmt.Errorf("%w: right bot_id is required", ErrInvalidSlot)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	e.slots = map[Side]Slot{
		Left:  {Side: Left, BotID: left.BotID, ModelName: left.ModelName, ConversationID: e.opts.NewConversationID()},
		Right: {Side: Right, BotID: right.BotID, ModelName: right.ModelName, ConversationID: e.opts.NewConversationID()},
	}
	e.log = NewMessageLog(starting)
	e.round = 0
	e.appended = 0

	opener := e.appendLocked(e.opts.OpeningMessage, media.Content{media.TextSegment(e.opts.OpeningMessage)})

	e.logger.Info("combat started",
		"starting_side", starting,
		"left_bot", left.BotID,
		"right_bot", right.BotID,
		"max_rounds", e.opts.MaxRounds,
	)

	e.launchLocked(starting.Other(), opener.PlainText, e.opts.OpeningAttachments)
	return nil
}

// Continue resumes a session halted by the round budget, Stop or an error.
// The round counter starts again from zero; slots and log are kept.
func (e *Engine) Continue() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return ErrAlreadyRunning
	}
	if e.log == nil || e.log.Len() == 0 {
		return ErrNotStarted
	}

	last, _ := e.log.Last()
	e.round = 0
	e.appended = 0

	e.logger.Info("combat continued", "messages", e.log.Len(), "next_side", last.Speaker.Other())

	e.launchLocked(last.Speaker.Other(), last.PlainText, nil)
	return nil
}

// Stop halts the session, cancelling any in-flight stream or pacing timer.
// The log is kept. Calling Stop more than once has no further effect.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Reset stops the session and discards its log and slots.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	e.log = nil
	e.slots = nil
	e.round = 0
	e.appended = 0
	e.partial = ""
	e.lastErr = nil
	e.setPhaseLocked(PhaseIdle)
}

// View returns a snapshot of the session.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := View{
		Round:       e.round,
		Phase:       e.phase,
		PartialText: e.partial,
		Active:      e.active,
		Err:         e.lastErr,
	}
	if e.log != nil {
		v.Messages = e.log.All()
		v.StartingSide = e.log.StartingSide()
	}
	for _, side := range []Side{Left, Right} {
		if slot, ok := e.slots[side]; ok {
			v.Slots = append(v.Slots, slot)
		}
	}
	return v
}

// Subscribe streams live-view events until ctx is cancelled.
func (e *Engine) Subscribe(ctx context.Context) <-chan Event {
	ch, _ := e.events.Subscribe(ctx)
	return ch
}

// Wait blocks until the current activation has finished running.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the session and closes all subscriptions.
func (e *Engine) Close() {
	e.Stop()
	e.events.Close()
}

// stopLocked deactivates the current activation. Must be called with mu held.
func (e *Engine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.partial = ""

	switch {
	case e.active:
		e.active = false
		e.logger.Info("combat stopped", "messages", e.log.Len(), "round", e.round)
		e.setPhaseLocked(PhaseStopped)
	case e.phase == PhaseWaitingContinue:
		e.setPhaseLocked(PhaseStopped)
	}
}

// launchLocked starts a new activation addressing target with query. Must be
// called with mu held.
func (e *Engine) launchLocked(target Side, query string, attachments []stream.Attachment) {
	e.gen++
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.cancel = cancel
	e.done = done
	e.active = true
	e.partial = ""
	e.lastErr = nil
	e.setPhaseLocked(PhaseStreaming)

	go e.run(ctx, e.gen, target, query, attachments, done)
}

// run is the task loop of one activation: send, commit, pace, hand off.
func (e *Engine) run(ctx context.Context, gen uint64, target Side, query string, attachments []stream.Attachment, done chan struct{}) {
	defer close(done)

	for {
		final, err := e.turn(ctx, gen, target, query, attachments)
		if err != nil {
			if ctx.Err() == nil {
				e.fail(gen, err)
			}
			return
		}

		msg, ok := e.commit(gen, target, final)
		if !ok {
			return
		}

		if !e.pace(ctx) || !e.current(gen) {
			return
		}

		target = target.Other()
		query = msg.PlainText
		attachments = nil
	}
}

// turn runs one query against target and returns its final frame.
func (e *Engine) turn(ctx context.Context, gen uint64, target Side, query string, attachments []stream.Attachment) (*stream.Final, error) {
	e.mu.Lock()
	if !e.isCurrentLocked(gen) {
		e.mu.Unlock()
		return nil, context.Canceled
	}
	slot := e.slots[target]
	e.mu.Unlock()

	turnCtx, endTurn := context.WithCancel(ctx)
	defer endTurn()

	var final *stream.Final
	var fatal error

	h := stream.Handler{
		OnPartial: func(text string) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.isCurrentLocked(gen) {
				return
			}
			e.partial += text
			e.events.Publish(Event{Kind: EventPartial, Side: target, Text: e.partial, Phase: e.phase, Round: e.round})
		},
		OnFinal: func(f *stream.Final) {
			if final != nil || fatal != nil {
				return
			}
			final = f
			// The turn is complete; nothing after the final frame is used.
			endTurn()
		},
		OnError: func(err error) {
			var agentErr *stream.AgentError
			if errors.As(err, &agentErr) {
				if fatal == nil && final == nil {
					fatal = agentErr
					endTurn()
				}
				return
			}
			e.logger.Warn("ignoring malformed frame",
				"side", target,
				"bot_id", slot.BotID,
				"error", err,
			)
		},
	}

	e.logger.Debug("turn started",
		"side", target,
		"bot_id", slot.BotID,
		"conversation_id", slot.ConversationID,
	)

	err := e.transport.Send(turnCtx, &stream.Request{
		Target:      slot.target(),
		Query:       query,
		Attachments: attachments,
	}, h)

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case fatal != nil:
		return nil, fatal
	case final != nil:
		return final, nil
	case err != nil:
		return nil, err
	default:
		return nil, &stream.TransportError{Err: ErrNoFinal}
	}
}

// commit appends the reply of target and applies the round budget. It
// reports false when the loop must end.
func (e *Engine) commit(gen uint64, target Side, final *stream.Final) (Message, bool) {
	resolved := media.Resolve(final.FinalResponse, final.SelectedDocuments)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isCurrentLocked(gen) {
		return Message{}, false
	}

	e.partial = ""
	msg := e.appendLocked(resolved.PlainText, resolved.Display)
	if msg.Speaker != target {
		e.logger.Error("speaker mismatch", "index", msg.Index, "speaker", msg.Speaker, "addressed", target)
	}

	e.logger.Info("turn complete",
		"side", msg.Speaker,
		"index", msg.Index,
		"round", e.round,
		"images", len(msg.Display.Images()),
	)

	if e.round >= e.opts.MaxRounds {
		e.active = false
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		e.logger.Info("round budget reached", "rounds", e.round, "messages", e.log.Len())
		e.setPhaseLocked(PhaseWaitingContinue)
		return msg, false
	}
	return msg, true
}

// appendLocked adds a message and advances the round counter. Must be called with mu held.
func (e *Engine) appendLocked(plainText string, display media.Content) Message {
	msg := e.log.Append(plainText, display)
	e.appended++
	if e.appended%2 == 0 {
		e.round++
	}
	e.events.Publish(Event{Kind: EventMessage, Message: &msg, Phase: e.phase, Round: e.round})
	return msg
}

// pace waits out the inter-turn delay. It reports false if cancelled first.
func (e *Engine) pace(ctx context.Context) bool {
	if e.opts.PacingDelay == 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(e.opts.PacingDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// fail stops the activation because of err and reports it.
func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	if !e.isCurrentLocked(gen) {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.partial = ""
	e.lastErr = err
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.logger.Error("combat stopped by error",
		"error", err,
		"messages", e.log.Len(),
		"round", e.round,
	)
	e.setPhaseLocked(PhaseStopped)
	e.events.Publish(Event{Kind: EventError, Err: err, Phase: e.phase, Round: e.round})
	e.mu.Unlock()

	if e.opts.OnError != nil {
		e.opts.OnError(err)
	}
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isCurrentLocked(gen)
}

// isCurrentLocked reports whether gen is the live activation. Must be called with mu held.
func (e *Engine) isCurrentLocked(gen uint64) bool {
	return e.active && e.gen == gen
}

func (e *Engine) setPhaseLocked(p Phase) {
	if e.phase == p {
		return
	}
	e.phase = p
	e.events.Publish(Event{Kind: EventPhase, Phase: p, Round: e.round})
}
