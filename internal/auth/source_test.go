// ABOUTME: Tests for bearer token sources
// ABOUTME: Covers static tokens, env override, token file reloads and expiry rejection

package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStaticToken(t *testing.T) {
	verifier := NewSigner([]byte("test-secret-key-for-jwt-signing"))
	live, _ := verifier.Mint("combat-cli", time.Hour)
	expired, _ := verifier.Mint("combat-cli", -time.Hour)

	tests := []struct {
		name    string
		token   StaticToken
		wantErr error
	}{
		{name: "opaque", token: "api-key-123"},
		{name: "live jwt", token: StaticToken(live)},
		{name: "expired jwt", token: StaticToken(expired), wantErr: ErrExpiredToken},
		{name: "empty", token: "", wantErr: ErrNoToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.token.Token(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Token() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if got != string(tt.token) {
				t.Errorf("Token() = %q, want %q", got, tt.token)
			}
		})
	}
}

func TestFileTokenSource_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(TokenEnvVar, "from-env")

	got, err := NewFileTokenSource(path).Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "from-env" {
		t.Errorf("Token() = %q, want %q", got, "from-env")
	}
}

func TestFileTokenSource_ReadsAndReloadsFile(t *testing.T) {
	t.Setenv(TokenEnvVar, "")
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  first-token \n"), 0600); err != nil {
		t.Fatal(err)
	}

	src := NewFileTokenSource(path)
	got, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "first-token" {
		t.Errorf("Token() = %q, want %q", got, "first-token")
	}

	if err := os.WriteFile(path, []byte("second-token"), 0600); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	got, err = src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got != "second-token" {
		t.Errorf("Token() after rewrite = %q, want %q", got, "second-token")
	}
}

func TestFileTokenSource_Missing(t *testing.T) {
	t.Setenv(TokenEnvVar, "")
	src := NewFileTokenSource(filepath.Join(t.TempDir(), "absent"))

	_, err := src.Token(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() error = %v, want ErrNoToken", err)
	}
}

func TestFileTokenSource_Empty(t *testing.T) {
	t.Setenv(TokenEnvVar, "")
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileTokenSource(path).Token(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() error = %v, want ErrNoToken", err)
	}
}

func TestFileTokenSource_ExpiredEnvToken(t *testing.T) {
	expired, _ := NewSigner([]byte("test-secret-key-for-jwt-signing")).Mint("combat-cli", -time.Minute)
	t.Setenv(TokenEnvVar, expired)

	_, err := NewFileTokenSource(filepath.Join(t.TempDir(), "token")).Token(context.Background())
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Token() error = %v, want ErrExpiredToken", err)
	}
}

func TestDefaultTokenPath_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	if got, want := DefaultTokenPath(), filepath.Join("/tmp/xdg", "coven", "token"); got != want {
		t.Errorf("DefaultTokenPath() = %q, want %q", got, want)
	}
}
