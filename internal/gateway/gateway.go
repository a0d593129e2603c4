// Package gateway defines the contracts between the sync core and the
// two systems it bridges: the mailbox and the issue tracker.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mail2issue/internal/model"
)

var (
	// ErrIssueBodyEmpty is returned when an issue body cannot be decoded
	// into metadata and content.
	ErrIssueBodyEmpty = errors.New("issue body empty")

	// ErrAlreadyTagged is returned when updating a comment whose stored
	// body already carries metadata.
	ErrAlreadyTagged = errors.New("comment already carries metadata")

	// ErrNotFound is returned when a tracker object does not exist.
	ErrNotFound = errors.New("not found")
)

// SystemType identifies which side of the bridge produced an error.
type SystemType string

const (
	SystemMail    SystemType = "mail"
	SystemTracker SystemType = "tracker"
)

// AuthError indicates that authentication has failed or expired. It is
// returned by gateway implementations so callers can tell credential
// problems apart from empty results and transient failures.
type AuthError struct {
	System  SystemType
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.System, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// MailGateway is the mailbox as seen by the sync core.
type MailGateway interface {
	// Address returns the mailbox's own address.
	Address() string

	// FetchByUID returns messages with a UID strictly greater than
	// sinceUID, oldest first, at most limit of them.
	FetchByUID(ctx context.Context, sinceUID uint32, limit int) ([]model.InboundMessage, error)

	// FetchByDate returns messages received on or after since, at most
	// limit of the most recent ones.
	FetchByDate(ctx context.Context, since time.Time, limit int) ([]model.InboundMessage, error)

	// Send delivers a rendered message.
	Send(ctx context.Context, msg model.OutboundMessage) error
}

// VariableStore is a small named key/value store used for the sync
// cursor.
type VariableStore interface {
	// GetVariable returns the stored value and whether it exists.
	GetVariable(ctx context.Context, name string) (string, bool, error)

	// SetVariable creates or updates the named value.
	SetVariable(ctx context.Context, name, value string) error
}

// TrackerGateway is the issue tracker as seen by the sync core. Bodies
// passed in are caller bodies; implementations embed Meta on write and
// strip it on read.
type TrackerGateway interface {
	VariableStore

	CreateIssue(ctx context.Context, draft model.IssueDraft) (int64, error)

	// GetIssue fails with ErrIssueBodyEmpty when the stored body cannot
	// be decoded. Foreign bodies decode with degraded metadata.
	GetIssue(ctx context.Context, id int64) (*model.Issue, error)

	UpdateIssue(ctx context.Context, issue model.Issue) error

	CreateComment(ctx context.Context, comment model.Comment) (int64, error)

	// UpdateComment fails with ErrAlreadyTagged when the stored comment
	// already carries metadata.
	UpdateComment(ctx context.Context, comment model.Comment) error

	ListComments(ctx context.Context, issueID int64) ([]model.Comment, error)
}

// SaveComment creates comment when it has no id yet and updates it in
// place otherwise. The persisted id is written back to comment.
func SaveComment(
	ctx context.Context, tracker TrackerGateway, comment *model.Comment,
) error {
	if comment.Persisted() {
		if err := tracker.UpdateComment(ctx, *comment); err != nil {
			return fmt.Errorf("updating comment %d: %w", comment.ID, err)
		}
		return nil
	}

	id, err := tracker.CreateComment(ctx, *comment)
	if err != nil {
		return fmt.Errorf(
			"creating comment on issue %d: %w", comment.IssueID, err,
		)
	}
	comment.ID = id
	return nil
}

// AttachmentTarget addresses where attachments are stored: an issue, and
// optionally a sub-reference within it such as a mail UID.
type AttachmentTarget struct {
	IssueID int64
	Ref     string
}

// SavedFile is a persisted attachment and its stable URL.
type SavedFile struct {
	Filename string
	URL      string
}

// AttachmentStore persists inbound attachments and returns stable URLs.
type AttachmentStore interface {
	Save(
		ctx context.Context,
		target AttachmentTarget,
		files []model.Attachment,
	) ([]SavedFile, error)
}
