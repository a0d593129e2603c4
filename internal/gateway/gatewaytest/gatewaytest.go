// Package gatewaytest provides in-memory gateway implementations for
// tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/metacodec"
	"github.com/nhle/mail2issue/internal/model"
)

// UIDFetch records a FetchByUID call.
type UIDFetch struct {
	SinceUID uint32
	Limit    int
}

// DateFetch records a FetchByDate call.
type DateFetch struct {
	Since time.Time
	Limit int
}

// Mail is an in-memory MailGateway. Messages are returned in the order
// they are configured, which lets tests exercise unordered fetches.
type Mail struct {
	mu sync.Mutex

	Self     string
	Messages []model.InboundMessage
	FetchErr error
	SendErr  error

	// Loopback delivers every sent message back into Messages.
	Loopback bool

	UIDFetches  []UIDFetch
	DateFetches []DateFetch
	Sent        []model.OutboundMessage
}

var _ gateway.MailGateway = (*Mail)(nil)

// Address returns the configured own address.
func (m *Mail) Address() string {
	return m.Self
}

// FetchByUID returns configured messages with a UID above sinceUID.
func (m *Mail) FetchByUID(
	_ context.Context, sinceUID uint32, limit int,
) ([]model.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UIDFetches = append(m.UIDFetches, UIDFetch{SinceUID: sinceUID, Limit: limit})
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	var out []model.InboundMessage
	for _, msg := range m.Messages {
		if msg.UID > sinceUID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FetchByDate returns every configured message.
func (m *Mail) FetchByDate(
	_ context.Context, since time.Time, limit int,
) ([]model.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DateFetches = append(m.DateFetches, DateFetch{Since: since, Limit: limit})
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	out := append([]model.InboundMessage(nil), m.Messages...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Send records msg.
func (m *Mail) Send(_ context.Context, msg model.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, msg)
	if m.Loopback {
		var uid uint32 = 1
		for _, in := range m.Messages {
			uid = max(uid, in.UID+1)
		}
		m.Messages = append(m.Messages, model.InboundMessage{
			UID:         uid,
			Subject:     msg.Subject,
			VisibleText: msg.Text,
			Senders:     []model.Contact{{Address: m.Self}},
			ToReceivers: contacts(msg.To),
			CcReceivers: contacts(msg.Cc),
			MessageID:   fmt.Sprintf("loopback-%d@test", uid),
		})
	}
	return nil
}

func contacts(addrs []string) []model.Contact {
	out := make([]model.Contact, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.Contact{Address: a})
	}
	return out
}

type storedIssue struct {
	title     string
	raw       string
	createdAt time.Time
	author    model.Contact
}

type storedComment struct {
	issueID   int64
	raw       string
	createdAt time.Time
	author    model.Contact
}

// Tracker is an in-memory TrackerGateway. Bodies are stored tagged via
// metacodec so reads go through the same decode path as a real tracker.
type Tracker struct {
	mu sync.Mutex

	// Now stamps created objects. Defaults to time.Now.
	Now func() time.Time

	// Author is the tracker identity used for foreign bodies.
	Author model.Contact

	// Fail, when set, is consulted before each write. A non-nil result
	// is returned as the write's error.
	Fail func(op string, issueID int64, body string) error

	issues      map[int64]*storedIssue
	comments    map[int64]*storedComment
	commentSeq  []int64
	variables   map[string]string
	nextIssue   int64
	nextComment int64

	CreatedIssues   []model.IssueDraft
	UpdatedIssues   []model.Issue
	CreatedComments []model.Comment
	UpdatedComments []model.Comment
	VariableWrites  []string
}

var _ gateway.TrackerGateway = (*Tracker)(nil)

// NewTracker returns an empty tracker whose ids start at 1.
func NewTracker() *Tracker {
	return &Tracker{
		Author:      model.Contact{Address: "agent@users.noreply.example.com", Name: "agent"},
		issues:      make(map[int64]*storedIssue),
		comments:    make(map[int64]*storedComment),
		variables:   make(map[string]string),
		nextIssue:   1,
		nextComment: 1,
	}
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tracker) fail(op string, issueID int64, body string) error {
	if t.Fail == nil {
		return nil
	}
	return t.Fail(op, issueID, body)
}

// SeedIssue stores an issue with a raw body as if written directly in
// the tracker. Pass a metacodec-encoded body to simulate a synced issue.
func (t *Tracker) SeedIssue(id int64, title, raw string, createdAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.issues[id] = &storedIssue{title: title, raw: raw, createdAt: createdAt, author: t.Author}
	if id >= t.nextIssue {
		t.nextIssue = id + 1
	}
}

// SeedComment stores a comment with a raw body.
func (t *Tracker) SeedComment(id, issueID int64, raw string, createdAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.comments[id]; !ok {
		t.commentSeq = append(t.commentSeq, id)
	}
	t.comments[id] = &storedComment{issueID: issueID, raw: raw, createdAt: createdAt, author: t.Author}
	if id >= t.nextComment {
		t.nextComment = id + 1
	}
}

// RawIssueBody returns the stored, tagged body of an issue.
func (t *Tracker) RawIssueBody(id int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if is, ok := t.issues[id]; ok {
		return is.raw
	}
	return ""
}

// RawCommentBody returns the stored, tagged body of a comment.
func (t *Tracker) RawCommentBody(id int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.comments[id]; ok {
		return c.raw
	}
	return ""
}

// Variables returns a copy of the stored variables.
func (t *Tracker) Variables() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string, len(t.variables))
	for k, v := range t.variables {
		out[k] = v
	}
	return out
}

// CreateIssue stores a new tagged issue.
func (t *Tracker) CreateIssue(_ context.Context, draft model.IssueDraft) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail("CreateIssue", 0, draft.Body); err != nil {
		return 0, err
	}
	raw, err := metacodec.Encode(draft.Body, draft.Meta)
	if err != nil {
		return 0, err
	}

	id := t.nextIssue
	t.nextIssue++
	t.issues[id] = &storedIssue{title: draft.Title, raw: raw, createdAt: t.now(), author: t.Author}
	t.CreatedIssues = append(t.CreatedIssues, draft)
	return id, nil
}

// GetIssue decodes a stored issue.
func (t *Tracker) GetIssue(_ context.Context, id int64) (*model.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	is, ok := t.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue %d: %w", id, gateway.ErrNotFound)
	}
	if is.raw == "" {
		return nil, fmt.Errorf("issue %d: %w", id, gateway.ErrIssueBodyEmpty)
	}
	decoded, err := metacodec.DecodeOrForeign(is.raw, is.author)
	if err != nil {
		return nil, fmt.Errorf("issue %d: %w: %w", id, gateway.ErrIssueBodyEmpty, err)
	}
	return &model.Issue{
		ID:        id,
		Title:     is.title,
		Body:      decoded.Body,
		Meta:      decoded.Meta,
		CreatedAt: is.createdAt,
	}, nil
}

// UpdateIssue rewrites a stored issue.
func (t *Tracker) UpdateIssue(_ context.Context, issue model.Issue) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	is, ok := t.issues[issue.ID]
	if !ok {
		return fmt.Errorf("issue %d: %w", issue.ID, gateway.ErrNotFound)
	}
	if err := t.fail("UpdateIssue", issue.ID, issue.Body); err != nil {
		return err
	}
	raw, err := metacodec.Encode(issue.Body, issue.Meta)
	if err != nil {
		return err
	}
	is.raw = raw
	if issue.Title != "" {
		is.title = issue.Title
	}
	t.UpdatedIssues = append(t.UpdatedIssues, issue)
	return nil
}

// CreateComment stores a new tagged comment.
func (t *Tracker) CreateComment(_ context.Context, c model.Comment) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail("CreateComment", c.IssueID, c.Body); err != nil {
		return 0, err
	}
	if _, ok := t.issues[c.IssueID]; !ok {
		return 0, fmt.Errorf("issue %d: %w", c.IssueID, gateway.ErrNotFound)
	}
	raw, err := metacodec.Encode(c.Body, c.Meta)
	if err != nil {
		return 0, err
	}

	id := t.nextComment
	t.nextComment++
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = t.now()
	}
	t.comments[id] = &storedComment{issueID: c.IssueID, raw: raw, createdAt: createdAt, author: t.Author}
	t.commentSeq = append(t.commentSeq, id)
	t.CreatedComments = append(t.CreatedComments, c)
	return id, nil
}

// UpdateComment rewrites an untagged comment in place.
func (t *Tracker) UpdateComment(_ context.Context, c model.Comment) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stored, ok := t.comments[c.ID]
	if !ok {
		return fmt.Errorf("comment %d: %w", c.ID, gateway.ErrNotFound)
	}
	if metacodec.Tagged(stored.raw) {
		return fmt.Errorf("comment %d: %w", c.ID, gateway.ErrAlreadyTagged)
	}
	if err := t.fail("UpdateComment", c.IssueID, c.Body); err != nil {
		return err
	}
	raw, err := metacodec.Encode(c.Body, c.Meta)
	if err != nil {
		return err
	}
	stored.raw = raw
	t.UpdatedComments = append(t.UpdatedComments, c)
	return nil
}

// ListComments decodes the comments of an issue in creation order.
func (t *Tracker) ListComments(_ context.Context, issueID int64) ([]model.Comment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []model.Comment
	for _, id := range t.commentSeq {
		c := t.comments[id]
		if c.issueID != issueID {
			continue
		}
		decoded, err := metacodec.DecodeOrForeign(c.raw, c.author)
		if err != nil {
			return nil, fmt.Errorf("comment %d: %w", id, err)
		}
		out = append(out, model.Comment{
			ID:        id,
			IssueID:   issueID,
			Body:      decoded.Body,
			Meta:      decoded.Meta,
			CreatedAt: c.createdAt,
		})
	}
	return out, nil
}

// GetVariable returns a stored variable.
func (t *Tracker) GetVariable(_ context.Context, name string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.variables[name]
	return v, ok, nil
}

// SetVariable upserts a variable and records the write.
func (t *Tracker) SetVariable(_ context.Context, name, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail("SetVariable", 0, name); err != nil {
		return err
	}
	t.variables[name] = value
	t.VariableWrites = append(t.VariableWrites, name)
	return nil
}

// Attachments is an in-memory AttachmentStore.
type Attachments struct {
	mu sync.Mutex

	BaseURL string
	Saved   map[gateway.AttachmentTarget][]model.Attachment
}

var _ gateway.AttachmentStore = (*Attachments)(nil)

// Save records files and returns deterministic URLs.
func (a *Attachments) Save(
	_ context.Context,
	target gateway.AttachmentTarget,
	files []model.Attachment,
) ([]gateway.SavedFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Saved == nil {
		a.Saved = make(map[gateway.AttachmentTarget][]model.Attachment)
	}
	a.Saved[target] = append(a.Saved[target], files...)

	out := make([]gateway.SavedFile, 0, len(files))
	for _, f := range files {
		url := fmt.Sprintf("%s/%d/%s", a.BaseURL, target.IssueID, f.Filename)
		if target.Ref != "" {
			url = fmt.Sprintf("%s/%d/%s/%s", a.BaseURL, target.IssueID, target.Ref, f.Filename)
		}
		out = append(out, gateway.SavedFile{Filename: f.Filename, URL: url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}
