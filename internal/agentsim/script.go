// ABOUTME: Reply scripts for the simulated agent backend
// ABOUTME: A Script maps an incoming query to streamed chunks, a final answer and optional images

package agentsim

import (
	"fmt"
	"strings"

	"github.com/2389/coven-combat/internal/media"
)

// Query is one request received by the backend.
type Query struct {
	BotID          string
	ConversationID string
	ModelName      string
	Text           string
	Attachments    []AttachmentInfo
	// Turn counts requests seen for ConversationID, starting at 1.
	Turn int
}

// AttachmentInfo describes an uploaded file.
type AttachmentInfo struct {
	Filename string
	MimeType string
	Size     int64
}

// Reply is what the backend streams back for a query.
type Reply struct {
	// Text is streamed as message frames and then sent as the final response.
	Text string
	// Images become image documents on the final frame. Text should carry one
	// [Image] placeholder per image.
	Images []string
	// Error, when set, is sent as an error frame instead of a final frame.
	Error string
	// OmitFinal ends the stream without a final frame.
	OmitFinal bool
}

// Script produces replies.
type Script interface {
	Reply(q Query) Reply
}

// ScriptFunc adapts a function to Script.
type ScriptFunc func(q Query) Reply

// Reply calls f.
func (f ScriptFunc) Reply(q Query) Reply { return f(q) }

// EchoScript answers every query by quoting it back. Every ImageEvery-th
// turn of a conversation carries an image hosted at ImageBaseURL.
type EchoScript struct {
	ImageEvery   int
	ImageBaseURL string
}

// Reply implements Script.
func (s EchoScript) Reply(q Query) Reply {
	name := q.BotID
	if q.ModelName != "" {
		name = fmt.Sprintf("%s (%s)", q.BotID, q.ModelName)
	}

	text := fmt.Sprintf("%s, turn %d. You said: **%s**", name, q.Turn, quote(q.Text))
	if len(q.Attachments) > 0 {
		names := make([]string, len(q.Attachments))
		for i, a := range q.Attachments {
			names[i] = a.Filename
		}
		text += fmt.Sprintf("\n\nI received %s.", strings.Join(names, ", "))
	}

	reply := Reply{Text: text}
	if s.ImageEvery > 0 && s.ImageBaseURL != "" && q.Turn%s.ImageEvery == 0 {
		reply.Text += "\n\nHere is a picture: " + media.Placeholder
		reply.Images = []string{fmt.Sprintf("%s/images/%s-%d.png", strings.TrimSuffix(s.ImageBaseURL, "/"), q.BotID, q.Turn)}
	}
	return reply
}

// quote keeps the first line of s, shortened to 120 runes.
func quote(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(strings.TrimSpace(s))
	if len(r) > 120 {
		return string(r[:120]) + "..."
	}
	return string(r)
}
