// ABOUTME: The token command: mints an HS256 development token for fake-agent
// ABOUTME: Optionally saves it where the run command looks for tokens

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/2389/coven-combat/internal/auth"
)

// secretEnvVar holds the signing secret shared with fake-agent.
const secretEnvVar = "COVEN_JWT_SECRET"

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv(secretEnvVar), "signing secret (default $"+secretEnvVar+")")
	subject := fs.String("sub", "coven-combat", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	save := fs.Bool("save", false, "write the token to "+auth.DefaultTokenPath())
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *secret == "" {
		return fmt.Errorf("a signing secret is required (-secret or $%s)", secretEnvVar)
	}
	if *ttl <= 0 {
		return fmt.Errorf("-ttl must be positive")
	}

	token, err := auth.NewSigner([]byte(*secret)).Mint(*subject, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	if !*save {
		fmt.Println(token)
		return nil
	}

	path := auth.DefaultTokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	fmt.Printf("Token for %q saved to %s (expires in %s)\n", *subject, path, *ttl)
	return nil
}
