// ABOUTME: Entry point for coven-combat, which pits two chat agents against each other
// ABOUTME: Commands: run a session, mint a dev token, create a config file

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __         ___ ___  _ __ ___ | |__   __ _| |_
 / __/ _ \ \ / / _ \ '_ \ _____ / __/ _ \| '_ ' _ \| '_ \ / _' | __|
| (_| (_) \ V /  __/ | | |_____| (_| (_) | | | | | | |_) | (_| | |_
 \___\___/ \_/ \___|_| |_|      \___\___/|_| |_| |_|_.__/ \__,_|\__|
`

func usage() {
	fmt.Println("Usage: coven-combat <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run     Start a session between the configured agents")
	fmt.Println("  token   Mint a development token for fake-agent")
	fmt.Println("  init    Create a new config file interactively")
	fmt.Println("  help    Show this help")
	fmt.Println()
	fmt.Println("Run 'coven-combat <command> -h' for command flags.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCombat(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "init":
		err = runInit()
	case "help", "-h", "--help":
		usage()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
