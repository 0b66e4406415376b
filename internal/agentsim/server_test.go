// ABOUTME: Tests for the simulated agent backend
// ABOUTME: Drives the HTTP handler through the real stream client and decoder

package agentsim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-combat/internal/auth"
	"github.com/2389/coven-combat/internal/media"
	"github.com/2389/coven-combat/internal/stream"
)

// recorder collects handler callbacks.
type recorder struct {
	mu       sync.Mutex
	partials []string
	finals   []*stream.Final
	errs     []error
}

func (r *recorder) handler() stream.Handler {
	return stream.Handler{
		OnPartial: func(s string) { r.mu.Lock(); r.partials = append(r.partials, s); r.mu.Unlock() },
		OnFinal:   func(f *stream.Final) { r.mu.Lock(); r.finals = append(r.finals, f); r.mu.Unlock() },
		OnError:   func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
	}
}

func newTestClient(t *testing.T, url string, tokens stream.TokenSource) *stream.Client {
	t.Helper()
	client, err := stream.NewClient(stream.ClientConfig{BaseURL: url, Tokens: tokens, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func TestServer_StreamsChunksThenFinal(t *testing.T) {
	srv := NewServer(Config{Script: ScriptFunc(func(q Query) Reply {
		return Reply{Text: "hello there " + q.BotID}
	})})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var rec recorder
	err := newTestClient(t, ts.URL, nil).Send(t.Context(), &stream.Request{
		Target: stream.Target{BotID: "bot-a", ConversationID: "conv-1"},
		Query:  "hi",
	}, rec.handler())
	require.NoError(t, err)

	assert.Equal(t, []string{"hello ", "there ", "bot-a"}, rec.partials)
	require.Len(t, rec.finals, 1)
	assert.Equal(t, "hello there bot-a", rec.finals[0].FinalResponse)
	assert.Empty(t, rec.errs)
	assert.Equal(t, 1, srv.Turns("conv-1"))
}

func TestServer_SSEPrefixedFrames(t *testing.T) {
	srv := NewServer(Config{SSE: true, Script: ScriptFunc(func(Query) Reply { return Reply{Text: "ok"} })})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var rec recorder
	require.NoError(t, newTestClient(t, ts.URL, nil).Send(t.Context(), &stream.Request{
		Target: stream.Target{BotID: "bot-a", ConversationID: "conv-1"},
	}, rec.handler()))

	require.Len(t, rec.finals, 1)
	assert.Equal(t, "ok", rec.finals[0].FinalResponse)
}

func TestServer_ImageDocuments(t *testing.T) {
	srv := NewServer(Config{Script: ScriptFunc(func(Query) Reply {
		return Reply{Text: "see " + media.Placeholder, Images: []string{"https://cdn.example.com/x.png"}}
	})})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var rec recorder
	require.NoError(t, newTestClient(t, ts.URL, nil).Send(t.Context(), &stream.Request{
		Target: stream.Target{BotID: "bot-a", ConversationID: "conv-1"},
	}, rec.handler()))

	require.Len(t, rec.finals, 1)
	final := rec.finals[0]
	require.Len(t, final.SelectedDocuments, 1)
	assert.Equal(t, "image", final.SelectedDocuments[0].Metadata.Type)
	assert.Equal(t, "https://cdn.example.com/x.png", final.SelectedDocuments[0].Metadata.PublicURL)
	assert.Contains(t, string(final.SelectedDocuments[0].Raw), `"id"`)

	resolved := media.Resolve(final.FinalResponse, final.SelectedDocuments)
	assert.Equal(t, []string{"https://cdn.example.com/x.png"}, resolved.Display.Images())
}

func TestServer_ErrorFrame(t *testing.T) {
	srv := NewServer(Config{Script: ScriptFunc(func(Query) Reply { return Reply{Text: "partial", Error: "model overloaded"} })})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var rec recorder
	require.NoError(t, newTestClient(t, ts.URL, nil).Send(t.Context(), &stream.Request{
		Target: stream.Target{BotID: "bot-a", ConversationID: "conv-1"},
	}, rec.handler()))

	assert.Empty(t, rec.finals)
	require.Len(t, rec.errs, 1)
	var agentErr *stream.AgentError
	require.True(t, errors.As(rec.errs[0], &agentErr))
	assert.Equal(t, "model overloaded", agentErr.Message)
}

func TestServer_ReceivesAttachments(t *testing.T) {
	var got Query
	srv := NewServer(Config{Script: ScriptFunc(func(q Query) Reply { got = q; return Reply{Text: "ok"} })})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var rec recorder
	require.NoError(t, newTestClient(t, ts.URL, nil).Send(t.Context(), &stream.Request{
		Target: stream.Target{BotID: "bot-a", ConversationID: "conv-9", ModelName: "gpt-4o"},
		Query:  "look at this",
		Attachments: []stream.Attachment{
			{Filename: "photo.png", MimeType: "image/png", Data: []byte{1, 2, 3}},
		},
	}, rec.handler()))

	assert.Equal(t, "bot-a", got.BotID)
	assert.Equal(t, "conv-9", got.ConversationID)
	assert.Equal(t, "gpt-4o", got.ModelName)
	assert.Equal(t, "look at this", got.Text)
	assert.Equal(t, 1, got.Turn)
	assert.Equal(t, []AttachmentInfo{{Filename: "photo.png", MimeType: "image/png", Size: 3}}, got.Attachments)
}

func TestServer_MissingFields(t *testing.T) {
	ts := httptest.NewServer(NewServer(Config{}).Handler())
	defer ts.Close()

	var rec recorder
	err := newTestClient(t, ts.URL, nil).Send(t.Context(), &stream.Request{
		Target: stream.Target{BotID: "bot-a"},
	}, rec.handler())

	var transportErr *stream.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusBadRequest, transportErr.StatusCode)
	assert.Contains(t, transportErr.Body, "conversation_id is required")
}

func TestServer_RequiresToken(t *testing.T) {
	verifier := auth.NewSigner([]byte("agentsim-test-secret"))
	ts := httptest.NewServer(NewServer(Config{Verifier: verifier}).Handler())
	defer ts.Close()

	req := &stream.Request{Target: stream.Target{BotID: "bot-a", ConversationID: "conv-1"}, Query: "hi"}

	t.Run("without token", func(t *testing.T) {
		var rec recorder
		err := newTestClient(t, ts.URL, nil).Send(t.Context(), req, rec.handler())

		var transportErr *stream.TransportError
		require.True(t, errors.As(err, &transportErr))
		assert.Equal(t, http.StatusUnauthorized, transportErr.StatusCode)
	})

	t.Run("with token", func(t *testing.T) {
		token, err := verifier.Mint("combat-cli", time.Hour)
		require.NoError(t, err)

		var rec recorder
		require.NoError(t, newTestClient(t, ts.URL, auth.StaticToken(token)).Send(t.Context(), req, rec.handler()))
		assert.Len(t, rec.finals, 1)
	})
}

func TestServer_StopsWhenClientCancels(t *testing.T) {
	srv := NewServer(Config{
		ChunkDelay: time.Hour,
		Script:     ScriptFunc(func(Query) Reply { return Reply{Text: "one two three"} }),
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	var rec recorder
	h := rec.handler()
	h.OnPartial = func(string) { cancel() }

	err := newTestClient(t, ts.URL, nil).Send(ctx, &stream.Request{
		Target: stream.Target{BotID: "bot-a", ConversationID: "conv-1"},
	}, h)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.finals)
}

func TestServer_ServesImages(t *testing.T) {
	ts := httptest.NewServer(NewServer(Config{}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/images/bot-a-3.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestEchoScript(t *testing.T) {
	script := EchoScript{ImageEvery: 2, ImageBaseURL: "http://localhost:8090/"}

	first := script.Reply(Query{BotID: "bot-a", Text: "Mày là ai\nsecond line", Turn: 1})
	assert.Equal(t, "bot-a, turn 1. You said: **Mày là ai**", first.Text)
	assert.Empty(t, first.Images)

	second := script.Reply(Query{BotID: "bot-a", ModelName: "m", Text: "x", Turn: 2})
	assert.True(t, strings.HasSuffix(second.Text, media.Placeholder))
	assert.Equal(t, []string{"http://localhost:8090/images/bot-a-2.png"}, second.Images)
}

func TestChunks(t *testing.T) {
	for _, text := range []string{"", "one", "one two  three ", "  lead"} {
		assert.Equal(t, text, strings.Join(chunks(text), ""), "chunks(%q)", text)
	}
}
