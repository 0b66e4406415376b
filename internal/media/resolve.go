// ABOUTME: Resolves inline [Image] placeholders in agent replies into displayable content
// ABOUTME: Pure function: the outgoing query text is never modified

package media

import (
	"regexp"
	"strings"

	"github.com/2389/coven-combat/internal/stream"
)

// Placeholder is the token agents put where an image belongs.
const Placeholder = "[Image]"

// imageKind is the document metadata type that marks an inline image.
const imageKind = "image"

var placeholderRe = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(Placeholder))

// SegmentKind distinguishes text from image segments.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentImage SegmentKind = "image"
)

// Segment is one piece of display content.
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	URL  string      `json:"url,omitempty"`
}

// Content is display-ready mixed text and images, in order.
type Content []Segment

// TextSegment wraps text.
func TextSegment(text string) Segment {
	return Segment{Kind: SegmentText, Text: text}
}

// ImageSegment wraps an image URL.
func ImageSegment(url string) Segment {
	return Segment{Kind: SegmentImage, URL: url}
}

// Text concatenates the text segments.
func (c Content) Text() string {
	var b strings.Builder
	for _, s := range c {
		if s.Kind == SegmentText {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Images returns the image URLs in order.
func (c Content) Images() []string {
	var urls []string
	for _, s := range c {
		if s.Kind == SegmentImage {
			urls = append(urls, s.URL)
		}
	}
	return urls
}

// Resolved is the outcome of Resolve.
type Resolved struct {
	// PlainText is the reply exactly as received; it becomes the next query.
	PlainText string
	// Display is what gets shown for the reply.
	Display Content
}

// Resolve substitutes image placeholders in text with markdown image
// references to the image documents. Each image document, in list order,
// replaces the first placeholder still left in the text; documents beyond
// the number of placeholders are ignored. PlainText is always text.
func Resolve(text string, docs []stream.DocumentRef) Resolved {
	display := text
	var images []Segment

	for _, url := range imageURLs(docs) {
		loc := placeholderRe.FindStringIndex(display)
		if loc == nil {
			break
		}
		display = display[:loc[0]] + MarkdownImage(url) + display[loc[1]:]
		images = append(images, ImageSegment(url))
	}

	content := make(Content, 0, 1+len(images))
	content = append(content, TextSegment(display))
	content = append(content, images...)

	return Resolved{PlainText: text, Display: content}
}

// imageURLs picks the image documents that can be shown.
func imageURLs(docs []stream.DocumentRef) []string {
	var urls []string
	for _, doc := range docs {
		if !strings.EqualFold(doc.Metadata.Type, imageKind) {
			continue
		}
		url := strings.TrimSpace(doc.Metadata.PublicURL)
		if url == "" {
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

// destinationEscaper percent-encodes the bytes that would end or alter a
// markdown link destination.
var destinationEscaper = strings.NewReplacer(
	" ", "%20",
	"\t", "%09",
	"\n", "%0A",
	"(", "%28",
	")", "%29",
	"<", "%3C",
	">", "%3E",
	"\\", "%5C",
)

// MarkdownImage is the inline markdown reference Resolve writes for url.
func MarkdownImage(url string) string {
	return "![image](" + destinationEscaper.Replace(url) + ")"
}
