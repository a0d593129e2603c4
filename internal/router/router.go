// Package router turns tracker comments into outgoing mail.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mail2issue/internal/command"
	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/logging"
	"github.com/nhle/mail2issue/internal/model"
	"github.com/nhle/mail2issue/internal/thread"
)

// ErrNoRecipients is returned when an issue has nobody to reply to once
// the mailbox's own address is removed.
var ErrNoRecipients = errors.New("no recipients")

// Outcome describes what HandleCommentEvent did.
type Outcome struct {
	// Comment is the persisted clone, with its id set.
	Comment model.Comment

	// Sent is the delivered message, nil for internal notes.
	Sent *model.OutboundMessage
}

// Router routes comment events from the tracker to the mailbox.
type Router struct {
	mail    gateway.MailGateway
	tracker gateway.TrackerGateway
}

// New returns a Router.
func New(mail gateway.MailGateway, tracker gateway.TrackerGateway) *Router {
	return &Router{mail: mail, tracker: tracker}
}

// HandleCommentEvent persists comment with provenance metadata and,
// unless it is marked /internal, mails it to the thread's
// correspondents together with the visible history.
func (r *Router) HandleCommentEvent(ctx context.Context, comment model.Comment) (Outcome, error) {
	log := logging.Trace().WithFields(logrus.Fields{
		"component": "router",
		"issue":     comment.IssueID,
		"comment":   comment.ID,
	})

	out := comment.Clone()
	out.Body = command.StripCommands(comment.Body)

	if command.FindCommands(comment.Body).Has(command.Internal) {
		out.Meta.Type = model.KindInternalNote
		if err := gateway.SaveComment(ctx, r.tracker, &out); err != nil {
			return Outcome{}, err
		}
		log.Info("Stored internal note")
		return Outcome{Comment: out}, nil
	}

	issue, err := r.tracker.GetIssue(ctx, comment.IssueID)
	if err != nil {
		return Outcome{}, fmt.Errorf("getting issue %d: %w", comment.IssueID, err)
	}

	out.Meta.Type = model.KindAgentReply
	if err := gateway.SaveComment(ctx, r.tracker, &out); err != nil {
		return Outcome{}, err
	}

	comments, err := r.tracker.ListComments(ctx, issue.ID)
	if err != nil {
		return Outcome{Comment: out}, fmt.Errorf("listing comments of issue %d: %w", issue.ID, err)
	}

	to, cc := Recipients(issue.Meta, r.mail.Address())
	if len(to) == 0 {
		return Outcome{Comment: out}, fmt.Errorf("issue %d: %w", issue.ID, ErrNoRecipients)
	}

	msg := model.OutboundMessage{
		To:        to,
		Cc:        cc,
		Subject:   thread.BuildReplySubject(issue.Title, issue.ID),
		Text:      RenderReply(out.Body, History(comments, out.ID), issue),
		InReplyTo: issue.Meta.MessageID,
	}
	if err := r.mail.Send(ctx, msg); err != nil {
		return Outcome{Comment: out}, fmt.Errorf("sending reply for issue %d: %w", issue.ID, err)
	}

	log.WithField("to", len(to)).Info("Sent agent reply")
	return Outcome{Comment: out, Sent: &msg}, nil
}

// History returns the user-visible comments of a thread, newest first,
// leaving out the comment with id exclude.
func History(comments []model.Comment, exclude int64) []model.Comment {
	out := make([]model.Comment, 0, len(comments))
	for _, c := range comments {
		if !c.Meta.Type.UserVisible() {
			continue
		}
		if exclude != 0 && c.ID == exclude {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Recipients computes the reply addresses for a thread. to is the
// union of sender, to and reply-to addresses; cc is the original cc
// list. Both exclude self and duplicates, and cc excludes anyone in to.
func Recipients(meta model.Meta, self string) (to, cc []string) {
	own := model.Contact{Address: self}
	var seen []model.Contact

	add := func(dst []string, c model.Contact) []string {
		if strings.TrimSpace(c.Address) == "" || c.Equal(own) {
			return dst
		}
		for _, s := range seen {
			if s.Equal(c) {
				return dst
			}
		}
		seen = append(seen, c)
		return append(dst, strings.TrimSpace(c.Address))
	}

	for _, group := range [][]model.Contact{meta.From, meta.ToReceivers, meta.ReplyTo} {
		for _, c := range group {
			to = add(to, c)
		}
	}
	for _, c := range meta.CcReceivers {
		cc = add(cc, c)
	}
	return to, cc
}

// RenderReply composes the mail text: the reply body, the history
// blocks and the original issue.
func RenderReply(body string, history []model.Comment, issue *model.Issue) string {
	var b strings.Builder
	b.WriteString(withNewline(body))
	for _, c := range history {
		b.WriteString("---\n")
		fmt.Fprintf(&b, "From: %s\n", senderNames(c.Meta.From))
		fmt.Fprintf(&b, "Date: %s\n", formatDate(c.CreatedAt))
		b.WriteString("\n")
		b.WriteString(withNewline(c.Body))
	}
	b.WriteString("---\n")
	b.WriteString("Original Issues:\n")
	fmt.Fprintf(&b, "From: %s\n", senderNames(issue.Meta.From))
	fmt.Fprintf(&b, "Date: %s\n", formatDate(issue.CreatedAt))
	fmt.Fprintf(&b, "Subject: %s\n", issue.Title)
	b.WriteString("\n")
	b.WriteString(withNewline(issue.Body))
	return b.String()
}

func senderNames(from []model.Contact) string {
	names := make([]string, 0, len(from))
	for _, c := range from {
		names = append(names, c.DisplayName())
	}
	return strings.Join(names, ", ")
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
