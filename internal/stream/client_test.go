// ABOUTME: Tests for the HTTP streaming client against httptest servers
// ABOUTME: Covers request encoding, frame dispatch, HTTP failures and cancellation

package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) { return "", errors.New("no token") }

// recorder collects callbacks in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	finals []*Final
	errs   []error
}

func (r *recorder) handler() Handler {
	return Handler{
		OnPartial: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "partial:"+text)
		},
		OnFinal: func(f *Final) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "final:"+f.FinalResponse)
			r.finals = append(r.finals, f)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "error")
			r.errs = append(r.errs, err)
		},
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{BaseURL: url, Tokens: staticTokens("secret-token"), Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestSend_EncodesRequest(t *testing.T) {
	type captured struct {
		auth           string
		accept         string
		path           string
		query          string
		botID          string
		conversationID string
		model          string
		attachmentName string
		attachmentType string
		data           string
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := captured{
			auth:           r.Header.Get("Authorization"),
			accept:         r.Header.Get("Accept"),
			path:           r.URL.Path,
			query:          r.FormValue("query"),
			botID:          r.FormValue("bot_id"),
			conversationID: r.FormValue("conversation_id"),
			model:          r.FormValue("model_name"),
		}
		files := r.MultipartForm.File["attachments"]
		if len(files) == 1 {
			c.attachmentName = files[0].Filename
			c.attachmentType = files[0].Header.Get("Content-Type")
			if f, err := files[0].Open(); err == nil {
				b, _ := io.ReadAll(f)
				f.Close()
				c.data = string(b)
			}
		}
		got <- c
		_, _ = io.WriteString(w, `{"type":"final","content":{"final_response":"ok","selected_ids":[],"selected_documents":[]}}`+"\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	rec := &recorder{}
	err := c.Send(t.Context(), &Request{
		Target: Target{BotID: "bot-1", ConversationID: "conv-1", ModelName: "gpt-4o"},
		Query:  "Mày là ai",
		Attachments: []Attachment{
			{Filename: "notes.txt", MimeType: "text/plain", Data: []byte("hello")},
		},
	}, rec.handler())
	require.NoError(t, err)

	c2 := <-got
	assert.Equal(t, "Bearer secret-token", c2.auth)
	assert.Equal(t, "text/event-stream", c2.accept)
	assert.Equal(t, DefaultStreamPath, c2.path)
	assert.Equal(t, "Mày là ai", c2.query)
	assert.Equal(t, "bot-1", c2.botID)
	assert.Equal(t, "conv-1", c2.conversationID)
	assert.Equal(t, "gpt-4o", c2.model)
	assert.Equal(t, "notes.txt", c2.attachmentName)
	assert.Equal(t, "text/plain", c2.attachmentType)
	assert.Equal(t, "hello", c2.data)
	assert.Equal(t, []string{"final:ok"}, rec.events)
}

func TestSend_DispatchesFramesAcrossFlushes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		parts := []string{
			`{"type":"message","con`,
			`tent":"Hel"}` + "\n",
			"\n" + `{"type":"message","content":"lo"}` + "\n\n" + `garbage` + "\n\n",
			`{"type":"final","content":{"final_response":"Hello","selected_ids":[1],"selected_documents":[]}}`,
		}
		for _, p := range parts {
			_, _ = io.WriteString(w, p)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	err := newTestClient(t, srv.URL).Send(t.Context(), &Request{Query: "hi"}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, []string{"partial:Hel", "partial:lo", "error", "final:Hello"}, rec.events)
	var perr *ProtocolError
	assert.ErrorAs(t, rec.errs[0], &perr)
	assert.Equal(t, []int{1}, rec.finals[0].SelectedIDs)
}

func TestSend_ErrorFrameIsAgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"type":"error","content":"model overloaded"}`+"\n\n")
	}))
	defer srv.Close()

	rec := &recorder{}
	err := newTestClient(t, srv.URL).Send(t.Context(), &Request{Query: "hi"}, rec.handler())
	require.NoError(t, err)

	require.Len(t, rec.errs, 1)
	var aerr *AgentError
	require.ErrorAs(t, rec.errs[0], &aerr)
	assert.Equal(t, "model overloaded", aerr.Message)
}

func TestSend_HTTPStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := &recorder{}
	err := newTestClient(t, srv.URL).Send(t.Context(), &Request{Query: "hi"}, rec.handler())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
	assert.Contains(t, terr.Error(), "invalid token")
	assert.Empty(t, rec.events)
}

func TestSend_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newTestClient(t, url).Send(t.Context(), &Request{Query: "hi"}, Handler{})
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestSend_TokenFailure(t *testing.T) {
	c, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", Tokens: failingTokens{}})
	require.NoError(t, err)

	err = c.Send(t.Context(), &Request{Query: "hi"}, Handler{})
	assert.ErrorContains(t, err, "no token")
}

func TestSend_CancelStopsCallbacks(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		// Two frames in one write: the second is already buffered when the
		// first callback cancels.
		_, _ = io.WriteString(w, `{"type":"message","content":"one"}`+"\n\n"+`{"type":"message","content":"two"}`+"\n\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	h := Handler{
		OnPartial: func(text string) {
			mu.Lock()
			seen = append(seen, text)
			mu.Unlock()
			cancel()
		},
	}

	client := newTestClient(t, srv.URL)
	done := make(chan error, 1)
	go func() {
		done <- client.Send(ctx, &Request{Query: "hi"}, h)
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one"}, seen)
}

func TestSend_CancelledBeforeSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"type":"message","content":"x"}`+"\n\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec := &recorder{}
	err := newTestClient(t, srv.URL).Send(ctx, &Request{Query: "hi"}, rec.handler())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.events)
}
