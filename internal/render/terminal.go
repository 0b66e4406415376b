// ABOUTME: Terminal transcript output for combat messages
// ABOUTME: Colours each line by speaker and lists inline images beneath the text

package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-combat/internal/combat"
)

var (
	leftColor  = color.New(color.FgCyan, color.Bold)
	rightColor = color.New(color.FgMagenta, color.Bold)
	dimColor   = color.New(color.FgHiBlack)
)

// Labels names each side in terminal output. Missing entries fall back to the side name.
type Labels map[combat.Side]string

func (l Labels) of(s combat.Side) string {
	if name, ok := l[s]; ok && name != "" {
		return name
	}
	return s.String()
}

// Terminal writes one message as a coloured transcript entry.
func Terminal(w io.Writer, m combat.Message, labels Labels) error {
	c := leftColor
	if m.Speaker == combat.Right {
		c = rightColor
	}

	prefix := fmt.Sprintf("#%d %s", m.Index, labels.of(m.Speaker))
	if _, err := c.Fprint(w, prefix); err != nil {
		return err
	}

	text := strings.TrimSpace(m.Display.Text())
	if text == "" {
		text = m.PlainText
	}
	if _, err := fmt.Fprintf(w, ": %s\n", text); err != nil {
		return err
	}

	for _, u := range m.Display.Images() {
		if _, err := dimColor.Fprintf(w, "    image: %s\n", u); err != nil {
			return err
		}
	}
	return nil
}

// Partial overwrites the current line with the in-progress reply of speaker.
func Partial(w io.Writer, speaker combat.Side, text string, labels Labels) {
	last := text
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		last = text[i+1:]
	}
	dimColor.Fprintf(w, "\r\033[K%s is typing: %s", labels.of(speaker), last)
}

// ClearLine erases a line left by Partial.
func ClearLine(w io.Writer) {
	fmt.Fprint(w, "\r\033[K")
}
