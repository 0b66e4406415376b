// ABOUTME: The init command: writes a combat config file from interactive answers
// ABOUTME: Output is YAML produced from the config structs

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/coven-combat/internal/combat"
	"github.com/2389/coven-combat/internal/config"
	"github.com/2389/coven-combat/internal/stream"
)

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-combat configuration setup")
	fmt.Println("================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var cfg config.Config

	fmt.Println("\n--- Backend ---")
	cfg.Backend.BaseURL = prompt(reader, "Base URL", "http://localhost:8090")
	cfg.Backend.StreamPath = prompt(reader, "Stream path", stream.DefaultStreamPath)
	cfg.Auth.Token = prompt(reader, "Bearer token (leave empty to use $COVEN_TOKEN or the token file)", "")

	fmt.Println("\n--- Participants ---")
	cfg.Left.BotID = prompt(reader, "Left bot id", "bot-a")
	cfg.Left.ModelName = prompt(reader, "Left model name (optional)", "")
	cfg.Right.BotID = prompt(reader, "Right bot id", "bot-b")
	cfg.Right.ModelName = prompt(reader, "Right model name (optional)", "")

	fmt.Println("\n--- Session ---")
	rounds := prompt(reader, "Rounds before asking to continue", strconv.Itoa(combat.DefaultMaxRounds))
	n, err := strconv.Atoi(rounds)
	if err != nil || n <= 0 {
		return fmt.Errorf("rounds must be a positive number, got %q", rounds)
	}
	cfg.Combat.MaxRounds = n
	cfg.Combat.PacingDelayRaw = prompt(reader, "Delay between turns", combat.DefaultPacingDelay.String())
	if _, err := time.ParseDuration(cfg.Combat.PacingDelayRaw); err != nil {
		return fmt.Errorf("delay must be a duration like 1s or 500ms: %w", err)
	}
	cfg.Combat.StartingSide = prompt(reader, "Starting side (left/right)", combat.Left.String())
	cfg.Combat.OpeningMessage = prompt(reader, "Opening message", combat.DefaultOpeningMessage)

	fmt.Println("\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", config.DefaultLogLevel)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", config.DefaultLogFormat)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	content := "# coven-combat configuration\n# Generated by coven-combat init\n\n" + string(data)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start a session:")
	fmt.Printf("  coven-combat run -config %s\n", outputFile)

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
