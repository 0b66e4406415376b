// Package config handles configuration loading for coven-combat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is
// treated as YAML. Empty fields receive defaults and the result is validated.
//
// # Configuration File
//
// Default location (see DefaultPath):
//
//  1. Path from the COVEN_COMBAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/combat.yaml
//  3. ~/.config/coven/combat.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token: "${COVEN_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	transport:
//	  request_timeout: "2m"
//	combat:
//	  pacing_delay: "1s"
//
// # Example
//
//	backend:
//	  base_url: "http://localhost:8090"
//	  stream_path: "/api/chat/stream"
//
//	auth:
//	  token_file: "~/.config/coven/token"
//
//	combat:
//	  max_rounds: 25
//	  pacing_delay: "1s"
//	  starting_side: "left"
//	  opening_message: "Mày là ai"
//
//	left:
//	  bot_id: "bot-a"
//	  model_name: "gpt-4o"
//
//	right:
//	  bot_id: "bot-b"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text or json
//
// # Defaults
//
//   - backend.stream_path: /api/chat/stream
//   - transport.request_timeout: 5m
//   - combat.max_rounds: 25
//   - combat.pacing_delay: 1s
//   - combat.starting_side: left
//   - logging.level: info, logging.format: text
package config
