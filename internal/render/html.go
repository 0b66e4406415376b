// ABOUTME: HTML transcript export for a combat session
// ABOUTME: Converts markdown text segments with goldmark and appends image segments as <img>

package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-combat/internal/combat"
	"github.com/2389/coven-combat/internal/media"
)

var pageTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.message { margin: 1rem 0; padding: 0.5rem 1rem; border-radius: 0.5rem; }
.left { background: #e8f4fb; }
.right { background: #f6eaf7; margin-left: 4rem; }
.speaker { font-weight: bold; font-size: 0.85rem; color: #555; }
img { max-width: 100%; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Entries}}<div class="message {{.Side}}">
<div class="speaker">{{.Label}}</div>
{{.Body}}</div>
{{end}}</body>
</html>
`))

type htmlEntry struct {
	Side  string
	Label string
	Body  template.HTML
}

// HTML writes a standalone transcript page for messages.
func HTML(w io.Writer, title string, messages []combat.Message, labels Labels) error {
	entries := make([]htmlEntry, 0, len(messages))
	for _, m := range messages {
		body, err := Body(m.Display)
		if err != nil {
			return fmt.Errorf("rendering message %d: %w", m.Index, err)
		}
		entries = append(entries, htmlEntry{
			Side:  m.Speaker.String(),
			Label: labels.of(m.Speaker),
			Body:  body,
		})
	}

	data := struct {
		Title   string
		Entries []htmlEntry
	}{
		Title:   title,
		Entries: entries,
	}
	return pageTemplate.Execute(w, data)
}

// Body converts display content to an HTML fragment. Raw HTML in text is
// escaped. Images already referenced inline by the text are not repeated.
func Body(content media.Content) (template.HTML, error) {
	var buf bytes.Buffer
	var inline string
	for _, seg := range content {
		switch seg.Kind {
		case media.SegmentText:
			if err := goldmark.Convert([]byte(seg.Text), &buf); err != nil {
				return "", err
			}
			inline += seg.Text
		case media.SegmentImage:
			if strings.Contains(inline, media.MarkdownImage(seg.URL)) {
				continue
			}
			fmt.Fprintf(&buf, "<p><img src=\"%s\" alt=\"image\"></p>\n", template.HTMLEscapeString(seg.URL))
		}
	}
	return template.HTML(buf.String()), nil
}
