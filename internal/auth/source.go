// ABOUTME: Bearer token supply for outgoing agent requests
// ABOUTME: Reads from config, COVEN_TOKEN or a token file, rejecting expired JWTs

package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TokenEnvVar is the environment variable consulted for a bearer token.
const TokenEnvVar = "COVEN_TOKEN"

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

// Token returns the token, or ErrExpiredToken if it is a JWT past its exp.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	if err := checkExpiry(string(s), time.Now()); err != nil {
		return "", err
	}
	return string(s), nil
}

// FileTokenSource reads the token from COVEN_TOKEN, falling back to a file.
// The file is re-read when its modification time changes, so a token
// refreshed on disk is picked up without a restart.
type FileTokenSource struct {
	path string

	mu      sync.Mutex
	cached  string
	modTime time.Time
}

// NewFileTokenSource creates a source reading path. An empty path selects
// DefaultTokenPath.
func NewFileTokenSource(path string) *FileTokenSource {
	if path == "" {
		path = DefaultTokenPath()
	}
	return &FileTokenSource{path: path}
}

// Token returns the current token.
func (f *FileTokenSource) Token(context.Context) (string, error) {
	if token := strings.TrimSpace(os.Getenv(TokenEnvVar)); token != "" {
		if err := checkExpiry(token, time.Now()); err != nil {
			return "", err
		}
		return token, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w (set %s or write %s)", ErrNoToken, TokenEnvVar, f.path)
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	if f.cached == "" || !info.ModTime().Equal(f.modTime) {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		f.cached = strings.TrimSpace(string(data))
		f.modTime = info.ModTime()
	}

	if f.cached == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, f.path)
	}
	if err := checkExpiry(f.cached, time.Now()); err != nil {
		return "", err
	}
	return f.cached, nil
}

// DefaultTokenPath returns ~/.config/coven/token, honoring XDG_CONFIG_HOME.
func DefaultTokenPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "token"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "token")
}

// checkExpiry rejects JWTs whose exp is in the past. Opaque tokens pass.
func checkExpiry(token string, now time.Time) error {
	exp, ok := ExpiresAt(token)
	if !ok {
		return nil
	}
	if !now.Before(exp) {
		return fmt.Errorf("%w at %s", ErrExpiredToken, exp.Format(time.RFC3339))
	}
	return nil
}
