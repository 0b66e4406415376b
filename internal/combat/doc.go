// Package combat runs an automated conversation between two chat agents.
//
// # Overview
//
// An Engine owns two slots, Left and Right, each addressing one agent with
// its own conversation id. Start seeds the log with an opening message from
// the starting side and sends it to the other side; every reply is then
// forwarded to the opposite agent until the session is stopped, fails or
// reaches its round budget.
//
// # State Machine
//
//	idle ──Start──▶ streaming ──final──▶ streaming (next turn)
//	                    │                   │
//	                    │ Stop / error      │ round budget
//	                    ▼                   ▼
//	                 stopped ◀──Stop── waiting_continue
//	                    │                   │
//	                    └──── Continue ─────┘──▶ streaming
//
// Reset returns to idle from any state and discards the log.
//
// # Turn Order
//
// Speakers are never stored. The message at position i belongs to the
// starting side when i is even and to the other side when i is odd; use
// SpeakerAt wherever a speaker is needed.
//
// # Cancellation
//
// Each activation runs on its own goroutine and carries a generation number.
// Every callback and timer re-checks, under the engine lock, that the
// activation is still the live one before touching state, so nothing is
// appended after Stop or Reset returns.
//
// # Usage
//
//	client, _ := stream.NewClient(stream.ClientConfig{BaseURL: url, Tokens: tokens})
//	engine := combat.NewEngine(client, combat.Options{PacingDelay: time.Second})
//	events := engine.Subscribe(ctx)
//	err := engine.Start(combat.Left, leftCfg, rightCfg)
package combat
