// ABOUTME: HTTP backend that speaks the agent streaming protocol for local runs and tests
// ABOUTME: Parses multipart queries and streams scripted replies as delimited JSON frames

package agentsim

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-combat/internal/auth"
	"github.com/2389/coven-combat/internal/stream"
)

const maxUploadSize = 32 << 20

// pixelPNG is a 1x1 transparent PNG served for every image URL.
var pixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Config configures a Server.
type Config struct {
	Script Script
	// Verifier, when set, requires a bearer token on the stream endpoint.
	Verifier auth.TokenVerifier
	// StreamPath defaults to stream.DefaultStreamPath.
	StreamPath string
	// ChunkDelay is the pause between message frames.
	ChunkDelay time.Duration
	// SSE prefixes every frame with "data: ".
	SSE    bool
	Logger *slog.Logger
}

// Server is a scripted agent backend.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	turns map[string]int
}

// NewServer creates a backend. A nil Script selects EchoScript.
func NewServer(cfg Config) *Server {
	if cfg.Script == nil {
		cfg.Script = EchoScript{}
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = stream.DefaultStreamPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "agentsim"),
		turns:  make(map[string]int),
	}
}

// Handler returns the HTTP routes: the stream endpoint and GET /images/.
func (s *Server) Handler() http.Handler {
	var streamHandler http.Handler = http.HandlerFunc(s.handleStream)
	if s.cfg.Verifier != nil {
		streamHandler = auth.HTTPAuthMiddleware(s.cfg.Verifier)(streamHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("POST "+s.cfg.StreamPath, streamHandler)
	mux.HandleFunc("GET /images/", s.handleImage)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Turns returns how many queries conversationID has received.
func (s *Server) Turns(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns[conversationID]
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s.mu.Lock()
	s.turns[q.ConversationID]++
	q.Turn = s.turns[q.ConversationID]
	s.mu.Unlock()

	subject := ""
	if ac := auth.FromContext(r.Context()); ac != nil {
		subject = ac.Subject
	}
	s.logger.Info("query received",
		"bot_id", q.BotID,
		"conversation_id", q.ConversationID,
		"turn", q.Turn,
		"attachments", len(q.Attachments),
		"subject", subject,
	)

	reply := s.cfg.Script.Reply(q)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, chunk := range chunks(reply.Text) {
		if !s.writeFrame(w, stream.Frame{Kind: stream.KindMessage, Text: chunk}) {
			return
		}
		flusher.Flush()

		if s.cfg.ChunkDelay > 0 {
			timer := time.NewTimer(s.cfg.ChunkDelay)
			select {
			case <-r.Context().Done():
				timer.Stop()
				s.logger.Debug("client went away", "conversation_id", q.ConversationID)
				return
			case <-timer.C:
			}
		}
	}

	switch {
	case reply.Error != "":
		s.writeFrame(w, stream.Frame{Kind: stream.KindError, Text: reply.Error})
	case reply.OmitFinal:
	default:
		s.writeFrame(w, stream.Frame{Kind: stream.KindFinal, Final: finalFor(reply)})
	}
	flusher.Flush()
}

func (s *Server) parseQuery(r *http.Request) (Query, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return Query{}, errors.New("expected a multipart form body")
	}

	q := Query{
		BotID:          r.FormValue("bot_id"),
		ConversationID: r.FormValue("conversation_id"),
		ModelName:      r.FormValue("model_name"),
		Text:           r.FormValue("query"),
	}
	if q.BotID == "" {
		return Query{}, errors.New("bot_id is required")
	}
	if q.ConversationID == "" {
		return Query{}, errors.New("conversation_id is required")
	}

	for _, fh := range r.MultipartForm.File["attachments"] {
		q.Attachments = append(q.Attachments, AttachmentInfo{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Size:     fh.Size,
		})
	}
	return q, nil
}

func (s *Server) writeFrame(w io.Writer, f stream.Frame) bool {
	data, err := stream.EncodeFrame(f)
	if err != nil {
		s.logger.Error("failed to encode frame", "error", err)
		return false
	}
	if s.cfg.SSE {
		data = append([]byte("data: "), data...)
	}
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write failed", "error", err)
		return false
	}
	return true
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(pixelPNG)
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// finalFor builds the final frame content, one image document per URL.
func finalFor(reply Reply) *stream.Final {
	final := &stream.Final{FinalResponse: reply.Text}
	for i, u := range reply.Images {
		meta := stream.DocumentMetadata{PublicURL: u, Type: "image"}
		raw, _ := json.Marshal(map[string]any{
			"id":       uuid.New().String(),
			"metadata": meta,
		})
		final.SelectedIDs = append(final.SelectedIDs, i)
		final.SelectedDocuments = append(final.SelectedDocuments, stream.DocumentRef{Metadata: meta, Raw: raw})
	}
	return final
}

// chunks splits text into word-sized deltas that concatenate back to text.
func chunks(text string) []string {
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}
