// ABOUTME: Frame types for the agent streaming protocol and their JSON decoding
// ABOUTME: Defines the message/final/error tagged union and the protocol error taxonomy

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind identifies the type of a frame on the wire.
type Kind string

const (
	KindMessage Kind = "message"
	KindFinal   Kind = "final"
	KindError   Kind = "error"
)

// Frame is one decoded protocol unit. Text is set for message and error
// frames, Final is set for final frames.
type Frame struct {
	Kind  Kind
	Text  string
	Final *Final
}

// Final is the structured content of a final frame.
type Final struct {
	FinalResponse     string        `json:"final_response"`
	SelectedIDs       []int         `json:"selected_ids"`
	SelectedDocuments []DocumentRef `json:"selected_documents"`
}

// DocumentMetadata holds the document fields the engine understands.
type DocumentMetadata struct {
	PublicURL string `json:"public_url,omitempty"`
	Type      string `json:"type,omitempty"`
}

// DocumentRef is a document selected by an agent for its answer. Fields other
// than metadata are opaque and kept verbatim in Raw.
type DocumentRef struct {
	Metadata DocumentMetadata
	Raw      json.RawMessage
}

// UnmarshalJSON keeps the whole object and extracts metadata.
func (d *DocumentRef) UnmarshalJSON(data []byte) error {
	var doc struct {
		Metadata *DocumentMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Metadata != nil {
		d.Metadata = *doc.Metadata
	}
	d.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes Raw when present, otherwise just the metadata.
func (d DocumentRef) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	return json.Marshal(struct {
		Metadata DocumentMetadata `json:"metadata"`
	}{Metadata: d.Metadata})
}

// wireFrame is the JSON envelope of every frame.
type wireFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// ErrUnknownFrameType is wrapped by ProtocolError for frames with an unrecognized type.
var ErrUnknownFrameType = errors.New("unknown frame type")

// ProtocolError reports a single frame that could not be decoded. It is not
// fatal: the stream keeps being read after it.
type ProtocolError struct {
	Segment string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", truncate(e.Segment, 80), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AgentError is an error frame sent by the agent.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "agent error: " + e.Message
}

// TransportError is a network or HTTP level failure of a send.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	case e.Err != nil:
		return "transport: " + e.Err.Error()
	default:
		return "transport failure"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// EncodeFrame renders a frame in wire format, including the trailing delimiter.
func EncodeFrame(f Frame) ([]byte, error) {
	var content any
	switch f.Kind {
	case KindMessage, KindError:
		content = f.Text
	case KindFinal:
		if f.Final == nil {
			return nil, fmt.Errorf("final frame without content")
		}
		content = f.Final
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Kind)
	}

	data, err := json.Marshal(struct {
		Type    Kind `json:"type"`
		Content any  `json:"content"`
	}{Type: f.Kind, Content: content})
	if err != nil {
		return nil, err
	}
	return append(data, delimiter...), nil
}

// parseFrame decodes one delimited segment.
func parseFrame(segment []byte) (Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(segment, &wf); err != nil {
		return Frame{}, &ProtocolError{Segment: string(segment), Err: err}
	}

	switch Kind(wf.Type) {
	case KindMessage, KindError:
		var text string
		if err := json.Unmarshal(wf.Content, &text); err != nil {
			return Frame{}, &ProtocolError{Segment: string(segment), Err: fmt.Errorf("%s content: %w", wf.Type, err)}
		}
		return Frame{Kind: Kind(wf.Type), Text: text}, nil

	case KindFinal:
		var final Final
		if err := json.Unmarshal(wf.Content, &final); err != nil {
			return Frame{}, &ProtocolError{Segment: string(segment), Err: fmt.Errorf("final content: %w", err)}
		}
		return Frame{Kind: KindFinal, Final: &final}, nil

	default:
		return Frame{}, &ProtocolError{Segment: string(segment), Err: fmt.Errorf("%w: %q", ErrUnknownFrameType, wf.Type)}
	}
}

// truncate shortens s to at most maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
