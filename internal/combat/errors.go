// ABOUTME: Sentinel errors for the combat engine
// ABOUTME: State errors are returned to callers; turn errors surface through OnError

package combat

import "errors"

var (
	// ErrInvalidSide indicates a side other than Left or Right.
	ErrInvalidSide = errors.New("invalid side")
	// ErrInvalidSlot indicates a slot configuration without a bot id.
	ErrInvalidSlot = errors.New("invalid slot configuration")
	// ErrNotStarted indicates Continue was called before Start.
	ErrNotStarted = errors.New("session not started")
	// ErrAlreadyRunning indicates Continue was called while a turn is streaming.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNoFinal indicates a stream that ended without a final frame.
	ErrNoFinal = errors.New("stream ended without final frame")
)
