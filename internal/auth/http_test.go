// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, and subject propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := NewSigner(httpTestSecret)
	token, _ := verifier.Mint("combat-cli", time.Hour)

	var gotAuthCtx *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	HTTPAuthMiddleware(verifier)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotAuthCtx == nil {
		t.Fatal("expected AuthContext in context")
	}
	if gotAuthCtx.Subject != "combat-cli" {
		t.Errorf("expected subject 'combat-cli', got '%s'", gotAuthCtx.Subject)
	}
}

func TestHTTPAuthMiddleware_Rejects(t *testing.T) {
	verifier := NewSigner(httpTestSecret)
	expired, _ := verifier.Mint("combat-cli", -time.Hour)
	foreign, _ := NewSigner([]byte("some-other-secret")).Mint("combat-cli", time.Hour)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{name: "missing header", header: "", wantMsg: "missing authorization header"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantMsg: "invalid authorization header format"},
		{name: "empty bearer", header: "Bearer ", wantMsg: "empty token"},
		{name: "garbage", header: "Bearer not-a-jwt", wantMsg: "invalid token"},
		{name: "wrong secret", header: "Bearer " + foreign, wantMsg: "invalid token"},
		{name: "expired", header: "Bearer " + expired, wantMsg: "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})

			req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			HTTPAuthMiddleware(verifier)(handler).ServeHTTP(rec, req)

			if called {
				t.Error("handler should not be called")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantMsg)
			}
		})
	}
}
