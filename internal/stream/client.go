// ABOUTME: HTTP streaming client that posts one query to an agent and dispatches frames
// ABOUTME: Honors context cancellation before every callback and releases the body early

package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	// DefaultStreamPath is the agent endpoint used when none is configured.
	DefaultStreamPath = "/api/chat/stream"
	// readBufferSize is the size of a single body read.
	readBufferSize = 4096
	// errorBodyLimit caps how much of a failed response is kept for the error.
	errorBodyLimit = 512
)

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Target addresses one conversation participant.
type Target struct {
	BotID          string
	ConversationID string
	ModelName      string
}

// Attachment is a binary file sent along with a query.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// Request is one query to one agent.
type Request struct {
	Target      Target
	Query       string
	Attachments []Attachment
}

// Handler receives the events of a single stream. Nil fields are skipped.
type Handler struct {
	// OnPartial receives the text of each message frame.
	OnPartial func(text string)
	// OnFinal receives the final frame.
	OnFinal func(final *Final)
	// OnError receives *ProtocolError for undecodable frames and *AgentError
	// for error frames.
	OnError func(err error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	StreamPath string
	Tokens     TokenSource
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client sends queries to agents over HTTP and decodes the streamed frames.
type Client struct {
	endpoint string
	tokens   TokenSource
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a Client. BaseURL is required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	path := cfg.StreamPath
	if path == "" {
		path = DefaultStreamPath
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/"),
		tokens:   cfg.Tokens,
		http:     httpClient,
		logger:   logger.With("component", "stream"),
	}, nil
}

// Send posts the request and dispatches every frame of the response to h,
// in order, until the body ends. It returns nil at end of stream, ctx.Err()
// when cancelled and a *TransportError on network or HTTP failure. Once ctx
// is done no further callback fires.
func (c *Client) Send(ctx context.Context, req *Request, h Handler) error {
	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	// Unblock a pending Read as soon as the send is cancelled.
	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	c.logger.Debug("stream opened",
		"bot_id", req.Target.BotID,
		"conversation_id", req.Target.ConversationID,
	)

	return c.consume(ctx, resp.Body, h)
}

// consume reads body to the end, feeding the decoder and dispatching results.
func (c *Client) consume(ctx context.Context, body io.Reader, h Handler) error {
	var dec Decoder
	buf := make([]byte, readBufferSize)
	frames := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			for _, r := range dec.Feed(buf[:n]) {
				if err := ctx.Err(); err != nil {
					return err
				}
				c.dispatch(r, h)
				frames++
			}
		}

		if readErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(readErr, io.EOF) {
			return &TransportError{Err: readErr}
		}

		for _, r := range dec.Flush() {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.dispatch(r, h)
			frames++
		}
		c.logger.Debug("stream closed", "frames", frames)
		return nil
	}
}

// dispatch fires the callback matching a decode result.
func (c *Client) dispatch(r Result, h Handler) {
	if r.Err != nil {
		c.logger.Warn("skipping malformed frame", "error", r.Err)
		if h.OnError != nil {
			h.OnError(r.Err)
		}
		return
	}

	switch r.Frame.Kind {
	case KindMessage:
		if h.OnPartial != nil {
			h.OnPartial(r.Frame.Text)
		}
	case KindFinal:
		if h.OnFinal != nil {
			h.OnFinal(r.Frame.Final)
		}
	case KindError:
		if h.OnError != nil {
			h.OnError(&AgentError{Message: r.Frame.Text})
		}
	}
}

// newHTTPRequest builds the multipart POST for req.
func (c *Client) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := []struct{ name, value string }{
		{"query", req.Query},
		{"bot_id", req.Target.BotID},
		{"conversation_id", req.Target.ConversationID},
		{"model_name", req.Target.ModelName},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("writing %s: %w", f.name, err)
		}
	}

	for _, att := range req.Attachments {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments"; filename=%q`, att.Filename))
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		header.Set("Content-Type", mimeType)

		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("creating attachment part: %w", err)
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, fmt.Errorf("writing attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "text/event-stream")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting bearer token: %w", err)
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return httpReq, nil
}
