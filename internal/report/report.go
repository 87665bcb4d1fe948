// Package report prints run progress for the operator.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"

	"github.com/comigor/ovenmitt-go/internal/conversation"
	"github.com/comigor/ovenmitt-go/internal/journal"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// Reporter writes human-readable progress lines.
type Reporter struct {
	w io.Writer
}

// New creates a Reporter writing to w.
func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

func (r *Reporter) line(format string, args ...any) {
	fmt.Fprintf(r.w, format+"\n", args...)
}

// Banner opens a run.
func (r *Reporter) Banner(now time.Time) {
	r.line("\n%s", titleStyle.Render("🧤 OvenMitt · "+now.Format("2006-01-02 15:04")))
}

// Step announces a phase that is not tied to one source, e.g. authentication.
func (r *Reporter) Step(msg string) {
	r.line("\n%s", titleStyle.Render(msg))
}

// SourceStarted announces a source.
func (r *Reporter) SourceStarted(src conversation.Source) {
	icon := "💬"
	verb := "Reading %s threads..."
	if src == conversation.SourceMail {
		icon = "📬"
		verb = "Fetching unread %s..."
	}
	r.line("\n%s %s", icon, titleStyle.Render(fmt.Sprintf(verb, strings.ToLower(src.Label()))))
}

// Fetched reports how many conversations a source produced and how many need a reply.
func (r *Reporter) Fetched(src conversation.Source, total, eligible int) {
	if src == conversation.SourceMail {
		r.line("   %d unread.", total)
		return
	}
	r.line("   %d thread(s) may need a reply.", eligible)
}

// Conversation announces the conversation about to be drafted.
func (r *Reporter) Conversation(c conversation.Conversation) {
	detail := c.Subject
	if c.Source == conversation.SourceLocalMessage {
		detail = "(" + c.LastActivity.Format("01/02 15:04") + ")"
	}
	r.line("   → %s %s", c.ParticipantLabel, dimStyle.Render(conversation.Truncate(detail, 60)))
}

// Drafted confirms a journal write.
func (r *Reporter) Drafted(path, id string) {
	r.line("   %s %s [%s]", okStyle.Render("✓"), path, id)
}

// OK confirms a step announced with Step.
func (r *Reporter) OK(msg string) {
	r.line("   %s %s", okStyle.Render("✓"), msg)
}

// Warn reports a recoverable failure and any remediation hints attached to it.
func (r *Reporter) Warn(err error) {
	r.line("   %s", warnStyle.Render("⚠️  "+err.Error()))
	r.hints(err)
}

// Fatal reports an error that ends the run.
func (r *Reporter) Fatal(err error) {
	r.line("%s", errStyle.Render("⚠️  "+err.Error()))
	r.hints(err)
}

func (r *Reporter) hints(err error) {
	for _, h := range errors.GetAllHints(err) {
		r.line("   %s", dimStyle.Render(h))
	}
}

// Done closes a run.
func (r *Reporter) Done(dir string) {
	r.line("\n%s Drafts in: %s\n", okStyle.Render("✅ Done."), dir)
}

// Review lists the records already in a journal file.
func (r *Reporter) Review(path string, blocks []journal.Block) {
	r.line("\n%s %s", titleStyle.Render("📝 Drafts in"), path)
	if len(blocks) == 0 {
		r.line("   none yet.")
		return
	}
	for _, b := range blocks {
		r.line("   [%s] %s", b.CorrelationID, b.Title)
	}
}
