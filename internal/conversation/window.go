package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Window is the generation input derived from a conversation.
type Window struct {
	Context string
	Target  string
}

// WindowOptions bounds and formats a Window.
type WindowOptions struct {
	// MaxContextItems keeps only the newest N context lines. 0 keeps all.
	MaxContextItems int
	DateLayout      string
	// MaxTargetChars truncates the target text sent for generation. 0 keeps all.
	MaxTargetChars int
}

// DefaultWindowOptions returns the rendering used for each source.
func DefaultWindowOptions(src Source) WindowOptions {
	if src == SourceLocalMessage {
		return WindowOptions{MaxContextItems: 5, DateLayout: "2006-01-02T15:04"}
	}
	return WindowOptions{DateLayout: "2006-01-02"}
}

// BuildWindow renders every item except the target as "[date] sender: text",
// oldest first, one per line.
func BuildWindow(c Conversation, opts WindowOptions) Window {
	target, idx, ok := c.Target()
	if !ok {
		return Window{}
	}

	context := make([]Item, 0, len(c.Items))
	for i, it := range c.Items {
		if i != idx {
			context = append(context, it)
		}
	}
	if opts.MaxContextItems > 0 && len(context) > opts.MaxContextItems {
		context = context[len(context)-opts.MaxContextItems:]
	}

	layout := opts.DateLayout
	if layout == "" {
		layout = "2006-01-02"
	}
	lines := make([]string, len(context))
	for i, it := range context {
		lines[i] = fmt.Sprintf("[%s] %s: %s", it.Timestamp.Format(layout), it.Sender, it.Text)
	}

	text := target.Text
	if opts.MaxTargetChars > 0 {
		text = Truncate(text, opts.MaxTargetChars)
	}
	return Window{Context: strings.Join(lines, "\n"), Target: text}
}

// Truncate cuts s to at most n runes, without marking the cut.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Excerpt is Truncate with a trailing ellipsis when text was dropped.
func Excerpt(s string, n int) string {
	cut := Truncate(s, n)
	if cut != s {
		return cut + "..."
	}
	return s
}
