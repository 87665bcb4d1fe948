package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless" // FSM library

	"github.com/comigor/ovenmitt-go/internal/conversation"
	"github.com/comigor/ovenmitt-go/internal/journal"
	"github.com/comigor/ovenmitt-go/internal/logger"
)

// FSM States
type FSMState string

const (
	StateNotStarted FSMState = "NotStarted"
	StateFetching   FSMState = "Fetching"
	StateDrafting   FSMState = "Drafting"
	StateDone       FSMState = "Done"   // Terminal: source finished, individual drafts may have failed
	StateFailed     FSMState = "Failed" // Terminal: source could not be fetched
)

// FSM Triggers
type FSMTrigger string

const (
	TriggerFetch         FSMTrigger = "Fetch"
	TriggerFetched       FSMTrigger = "Fetched"
	TriggerFetchFailed   FSMTrigger = "FetchFailed"
	TriggerDraftsWritten FSMTrigger = "DraftsWritten"
)

// ErrGenerationUnavailable aborts a run before any source is touched.
var ErrGenerationUnavailable = errors.New("generation service not reachable")

// Source produces conversations from one backing store.
type Source interface {
	Kind() conversation.Source
	Fetch(ctx context.Context) ([]conversation.Conversation, error)
}

// Generator drafts replies and reports whether it can.
type Generator interface {
	Ping(ctx context.Context) error
	Draft(ctx context.Context, w conversation.Window) (string, error)
}

// Journal stores finished drafts.
type Journal interface {
	Append(rec journal.Record) (journal.Receipt, error)
}

// Reporter receives operator-facing progress.
type Reporter interface {
	SourceStarted(src conversation.Source)
	Fetched(src conversation.Source, total, eligible int)
	Conversation(c conversation.Conversation)
	Drafted(path, id string)
	Warn(err error)
}

// Preflight runs after the liveness probe and before any source. An error
// aborts the run.
type Preflight func(ctx context.Context) error

// Options tunes rendering.
type Options struct {
	// Window overrides conversation.DefaultWindowOptions per source.
	Window map[conversation.Source]conversation.WindowOptions
	// ExcerptChars bounds the original text shown in the journal.
	ExcerptChars int
}

// Summary is the outcome of one source.
type Summary struct {
	Source   conversation.Source
	State    FSMState
	Fetched  int
	Eligible int
	Drafted  int
	Failed   int
	Err      error
}

// Runner sequences sources, drafting and journaling for one run.
type Runner struct {
	gen       Generator
	journal   Journal
	report    Reporter
	opts      Options
	preflight []Preflight
}

// New creates a Runner.
func New(gen Generator, j Journal, r Reporter, opts Options, preflight ...Preflight) *Runner {
	if opts.ExcerptChars <= 0 {
		opts.ExcerptChars = 500
	}
	return &Runner{gen: gen, journal: j, report: r, opts: opts, preflight: preflight}
}

// Run probes the generation service, runs the preflight steps, then each
// source in order. Only the probe and preflight can fail the run; source and
// conversation failures are reported and recorded in the summaries.
func (r *Runner) Run(ctx context.Context, sources []Source) ([]Summary, error) {
	if err := r.gen.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	for _, step := range r.preflight {
		if err := step(ctx); err != nil {
			return nil, err
		}
	}

	summaries := make([]Summary, 0, len(sources))
	for _, src := range sources {
		s, err := r.runSource(ctx, src)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func newSourceMachine(src conversation.Source) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateNotStarted)

	fsm.Configure(StateNotStarted).
		Permit(TriggerFetch, StateFetching)

	fsm.Configure(StateFetching).
		Permit(TriggerFetched, StateDrafting).
		Permit(TriggerFetchFailed, StateFailed)

	fsm.Configure(StateDrafting).
		Permit(TriggerDraftsWritten, StateDone)

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		logger.L.Debug("source state", "source", src, "from", t.Source, "to", t.Destination)
	})
	return fsm
}

func (r *Runner) runSource(ctx context.Context, src Source) (Summary, error) {
	kind := src.Kind()
	summary := Summary{Source: kind}
	fsm := newSourceMachine(kind)

	if err := fsm.FireCtx(ctx, TriggerFetch); err != nil {
		return summary, fmt.Errorf("FSM internal error: %w", err)
	}
	r.report.SourceStarted(kind)

	convs, err := src.Fetch(ctx)
	if err != nil {
		logger.L.Error("source fetch failed", "source", kind, "error", err)
		r.report.Warn(err)
		summary.Err = err
		if fireErr := fsm.FireCtx(ctx, TriggerFetchFailed); fireErr != nil {
			return summary, fmt.Errorf("FSM internal error: %w", fireErr)
		}
		summary.State = fsm.MustState().(FSMState)
		return summary, nil
	}

	eligible := make([]conversation.Conversation, 0, len(convs))
	for _, c := range convs {
		if conversation.NeedsReply(c) {
			eligible = append(eligible, c)
		}
	}
	summary.Fetched, summary.Eligible = len(convs), len(eligible)
	r.report.Fetched(kind, len(convs), len(eligible))

	if err := fsm.FireCtx(ctx, TriggerFetched); err != nil {
		return summary, fmt.Errorf("FSM internal error: %w", err)
	}

	for _, c := range eligible {
		r.report.Conversation(c)
		rc, err := r.draftOne(ctx, c)
		if err != nil {
			logger.L.Error("draft failed", "source", kind, "conversation", c.ID, "error", err)
			r.report.Warn(err)
			summary.Failed++
			continue
		}
		summary.Drafted++
		r.report.Drafted(rc.Path, rc.CorrelationID)
	}

	if err := fsm.FireCtx(ctx, TriggerDraftsWritten); err != nil {
		return summary, fmt.Errorf("FSM internal error: %w", err)
	}
	summary.State = fsm.MustState().(FSMState)
	return summary, nil
}

func (r *Runner) windowOptions(src conversation.Source) conversation.WindowOptions {
	if o, ok := r.opts.Window[src]; ok {
		return o
	}
	return conversation.DefaultWindowOptions(src)
}

func (r *Runner) draftOne(ctx context.Context, c conversation.Conversation) (journal.Receipt, error) {
	w := conversation.BuildWindow(c, r.windowOptions(c.Source))
	reply, err := r.gen.Draft(ctx, w)
	if err != nil {
		return journal.Receipt{}, err
	}
	rc, err := r.journal.Append(r.record(c, reply))
	if err != nil {
		return journal.Receipt{}, fmt.Errorf("writing draft: %w", err)
	}
	return rc, nil
}

// record renders the journal entry for a drafted conversation. Mail shows an
// excerpt of the message being answered; chats show the tail of the thread,
// at most MaxContextItems lines counting the answered message.
func (r *Runner) record(c conversation.Conversation, reply string) journal.Record {
	rec := journal.Record{
		Source:         c.Source,
		ConversationID: c.ID,
		Reply:          reply,
	}
	target, _, _ := c.Target()

	if c.Source == conversation.SourceMail {
		rec.Title = fmt.Sprintf("**%s** | %s | %s", c.Source.Label(), c.ParticipantLabel, c.Subject)
		rec.ExcerptHeading = "Original"
		rec.Excerpt = conversation.Excerpt(target.Text, r.opts.ExcerptChars)
		return rec
	}

	opts := r.windowOptions(c.Source)
	rec.Title = fmt.Sprintf("**%s** | %s | last active %s", c.Source.Label(), c.ParticipantLabel, c.LastActivity.Format("01/02 15:04"))
	rec.ExcerptHeading = "Thread"
	var lines string
	switch {
	case opts.MaxContextItems == 0:
		lines = conversation.BuildWindow(c, conversation.WindowOptions{DateLayout: opts.DateLayout}).Context
	case opts.MaxContextItems > 1:
		lines = conversation.BuildWindow(c, conversation.WindowOptions{
			MaxContextItems: opts.MaxContextItems - 1,
			DateLayout:      opts.DateLayout,
		}).Context
	}
	last := fmt.Sprintf("[%s] %s: %s", target.Timestamp.Format(opts.DateLayout), target.Sender, conversation.Excerpt(target.Text, r.opts.ExcerptChars))
	if lines != "" {
		last = lines + "\n" + last
	}
	rec.Excerpt = last
	return rec
}
