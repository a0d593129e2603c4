package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mail2issue/internal/cursor"
	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/logging"
	"github.com/nhle/mail2issue/internal/model"
	"github.com/nhle/mail2issue/internal/thread"
)

const (
	DefaultLimit       = 30
	DefaultLookback    = 24 * time.Hour
	DefaultConcurrency = 4
)

// Strategy names how a cycle selected its messages.
type Strategy string

const (
	StrategyUID  Strategy = "uid"
	StrategyDate Strategy = "date"
)

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	// Limit caps the number of messages fetched per cycle.
	Limit int

	// Lookback bounds the date fetch used before any UID is recorded.
	Lookback time.Duration

	// Concurrency bounds parallel tracker writes within a cycle.
	Concurrency int

	// Attachments, when set, persists inbound attachments and links them
	// from the created issue or comment.
	Attachments gateway.AttachmentStore

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Failure is a message that could not be written to the tracker.
type Failure struct {
	UID     uint32
	Subject string
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("message %d (%q): %v", f.UID, f.Subject, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report summarises one inbound cycle.
type Report struct {
	Strategy  Strategy
	Fetched   int
	Succeeded int
	Failures  []Failure

	// LastUID is the cursor value written by the cycle, zero when the
	// cursor was left untouched.
	LastUID   uint32
	StartedAt time.Time
}

// Err joins the per-message failures, or returns nil when there are none.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Engine runs inbound synchronization from the mailbox to the tracker.
// Cycles must not run concurrently on the same cursor.
type Engine struct {
	mail    gateway.MailGateway
	tracker gateway.TrackerGateway
	cursor  *cursor.Cursor
	opts    Options
}

// NewEngine wires an Engine. vars holds the cursor; pass the tracker
// itself to keep the cursor in tracker variables.
func NewEngine(
	mail gateway.MailGateway,
	tracker gateway.TrackerGateway,
	vars gateway.VariableStore,
	opts Options,
) *Engine {
	return &Engine{
		mail:    mail,
		tracker: tracker,
		cursor:  cursor.New(vars),
		opts:    opts.withDefaults(),
	}
}

// SyncIncoming runs one cycle. The returned error covers failures that
// stop the cycle before dispatch (cursor read, fetch, cursor write).
// Per-message failures are reported in Report.Failures.
func (e *Engine) SyncIncoming(ctx context.Context) (Report, error) {
	report := Report{StartedAt: e.opts.Now()}
	log := logging.Trace().WithField("component", "sync")

	cur, err := e.cursor.Get(ctx)
	if err != nil {
		return report, fmt.Errorf("reading cursor: %w", err)
	}
	sinceUID, hasUID, err := cursor.ParseUID(cur.LastUID)
	if err != nil {
		return report, err
	}

	var msgs []model.InboundMessage
	if hasUID {
		report.Strategy = StrategyUID
		msgs, err = e.mail.FetchByUID(ctx, sinceUID, e.opts.Limit)
	} else {
		report.Strategy = StrategyDate
		since := report.StartedAt.Add(-e.opts.Lookback)
		msgs, err = e.mail.FetchByDate(ctx, since, e.opts.Limit)
	}
	if err != nil {
		return report, fmt.Errorf("fetching mail by %s: %w", report.Strategy, err)
	}

	report.Fetched = len(msgs)
	log = log.WithFields(logrus.Fields{
		"strategy": report.Strategy,
		"since":    cur.LastUID,
		"fetched":  report.Fetched,
	})
	if len(msgs) == 0 {
		log.Debug("No new messages")
		return report, nil
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].UID < msgs[j].UID })
	last := msgs[len(msgs)-1].UID
	if err := e.cursor.Advance(ctx, last, e.opts.Now()); err != nil {
		return report, fmt.Errorf("advancing cursor: %w", err)
	}
	report.LastUID = last

	var (
		mu gosync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.opts.Concurrency)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			err := e.dispatch(ctx, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithError(err).WithField("uid", msg.UID).Warn("Message dispatch failed")
				report.Failures = append(report.Failures, Failure{
					UID:     msg.UID,
					Subject: msg.Subject,
					Err:     err,
				})
				return nil
			}
			report.Succeeded++
			return nil
		})
	}
	// Workers record their own failures and always return nil.
	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].UID < report.Failures[j].UID
	})

	log.WithFields(logrus.Fields{
		"cursor":    last,
		"succeeded": report.Succeeded,
		"failed":    len(report.Failures),
	}).Info("Inbound sync cycle finished")

	return report, nil
}

// dispatch writes one message as a new issue or as a comment on the
// thread named in its subject.
func (e *Engine) dispatch(ctx context.Context, msg model.InboundMessage) error {
	issueID, err := thread.ExtractThreadID(msg.Subject)
	switch {
	case errors.Is(err, thread.ErrNotFound):
		return e.createTicket(ctx, msg)
	case err != nil:
		return err
	default:
		return e.createReply(ctx, issueID, msg)
	}
}

func (e *Engine) createTicket(ctx context.Context, msg model.InboundMessage) error {
	draft := model.IssueDraft{
		Title: msg.Subject,
		Body:  msg.VisibleText,
		Meta:  metaFor(msg, model.KindOriginal),
	}

	id, err := e.tracker.CreateIssue(ctx, draft)
	if err != nil {
		return fmt.Errorf("creating issue: %w", err)
	}

	if e.opts.Attachments == nil || len(msg.Attachments) == 0 {
		return nil
	}
	saved, err := e.opts.Attachments.Save(ctx, gateway.AttachmentTarget{IssueID: id}, msg.Attachments)
	if err != nil {
		return fmt.Errorf("saving attachments for issue %d: %w", id, err)
	}
	err = e.tracker.UpdateIssue(ctx, model.Issue{
		ID:    id,
		Title: draft.Title,
		Body:  draft.Body + attachmentSection(saved),
		Meta:  draft.Meta,
	})
	if err != nil {
		return fmt.Errorf("linking attachments on issue %d: %w", id, err)
	}
	return nil
}

func (e *Engine) createReply(ctx context.Context, issueID int64, msg model.InboundMessage) error {
	body := msg.VisibleText
	if e.opts.Attachments != nil && len(msg.Attachments) > 0 {
		target := gateway.AttachmentTarget{
			IssueID: issueID,
			Ref:     strconv.FormatUint(uint64(msg.UID), 10),
		}
		saved, err := e.opts.Attachments.Save(ctx, target, msg.Attachments)
		if err != nil {
			return fmt.Errorf("saving attachments for issue %d: %w", issueID, err)
		}
		body += attachmentSection(saved)
	}

	comment := model.Comment{
		IssueID: issueID,
		Body:    body,
		Meta:    metaFor(msg, model.KindUserReply),
	}
	if err := gateway.SaveComment(ctx, e.tracker, &comment); err != nil {
		return err
	}
	return nil
}

func metaFor(msg model.InboundMessage, kind model.MessageKind) model.Meta {
	return model.Meta{
		From:        msg.Senders,
		Type:        kind,
		UID:         msg.UID,
		MessageID:   msg.MessageID,
		ToReceivers: msg.ToReceivers,
		CcReceivers: msg.CcReceivers,
		ReplyTo:     msg.ReplyTo,
	}.Clone()
}

// attachmentSection renders saved files as a markdown link list.
func attachmentSection(saved []gateway.SavedFile) string {
	if len(saved) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n**Attachments:**\n")
	for _, f := range saved {
		fmt.Fprintf(&b, "- [%s](%s)\n", f.Filename, f.URL)
	}
	return b.String()
}
