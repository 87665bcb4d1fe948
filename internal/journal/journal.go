// Package journal appends reviewed-by-a-human draft records to a daily
// Markdown file and reads them back.
//
// Every record is framed by a start marker carrying a short correlation id and
// a fixed end marker, so other tools can find records without a Markdown parser.
// Records are only ever appended.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/comigor/ovenmitt-go/internal/conversation"
)

const (
	startPrefix = "<<<OVENMITT_MSG_START:"
	startSuffix = ">>>"
	EndMarker   = "<<<OVENMITT_MSG_END>>>"

	// markerPrefix is shared by both markers.
	markerPrefix = "<<<OVENMITT_MSG_"
)

// StartMarker returns the opening line for a record with the given id.
func StartMarker(id string) string {
	return startPrefix + id + startSuffix
}

// Record is one draft as written to the journal.
type Record struct {
	CorrelationID  string
	Source         conversation.Source
	ConversationID string
	// Title is the one-line Markdown header, e.g. "**Email** | Ann <a@x> | Lunch".
	Title          string
	ExcerptHeading string
	Excerpt        string
	Reply          string
}

// Receipt tells the caller where a record went.
type Receipt struct {
	Path          string
	CorrelationID string
}

// Writer appends records to {dir}/{YYYY-MM-DD}_drafts.md.
type Writer struct {
	fs    afero.Fs
	dir   string
	now   func() time.Time
	newID func() string
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock overrides the clock used to pick the day file.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(gen func() string) Option {
	return func(w *Writer) { w.newID = gen }
}

// NewWriter creates a Writer rooted at dir on fs.
func NewWriter(fs afero.Fs, dir string, opts ...Option) *Writer {
	w := &Writer{fs: fs, dir: dir, now: time.Now, newID: NewCorrelationID}
	for _, o := range opts {
		o(w)
	}
	return w
}

// NewCorrelationID returns 8 hex characters of a random UUID. Collisions are
// possible across runs and only cosmetic.
func NewCorrelationID() string {
	return uuid.NewString()[:8]
}

// Dir is the journal directory.
func (w *Writer) Dir() string { return w.dir }

// Path returns the journal file for the day containing t.
func (w *Writer) Path(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02")+"_drafts.md")
}

// Append assigns a fresh correlation id to rec and appends it in a single write.
func (w *Writer) Append(rec Record) (Receipt, error) {
	rec.CorrelationID = w.newID()
	if rec.CorrelationID == "" {
		return Receipt{}, fmt.Errorf("empty correlation id")
	}

	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return Receipt{}, fmt.Errorf("creating journal dir: %w", err)
	}

	path := w.Path(w.now())
	f, err := w.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Receipt{}, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(Render(rec)); err != nil {
		return Receipt{}, fmt.Errorf("appending to journal: %w", err)
	}
	return Receipt{Path: path, CorrelationID: rec.CorrelationID}, nil
}

// Render formats rec as a framed Markdown block, preceded by a blank line.
// Content lines that would read as a marker are indented by one space.
func Render(rec Record) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(StartMarker(rec.CorrelationID))
	b.WriteString("\n")
	b.WriteString(escapeMarkers(rec.Title))
	b.WriteString("\n\n")
	if rec.ExcerptHeading != "" {
		fmt.Fprintf(&b, "### %s\n%s\n\n", escapeMarkers(rec.ExcerptHeading), escapeMarkers(rec.Excerpt))
	}
	fmt.Fprintf(&b, "### Draft Reply\n%s\n", escapeMarkers(rec.Reply))
	b.WriteString(EndMarker)
	b.WriteString("\n")
	return b.String()
}

func escapeMarkers(s string) string {
	if !strings.Contains(s, markerPrefix) {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, markerPrefix) {
			lines[i] = " " + l
		}
	}
	return strings.Join(lines, "\n")
}
