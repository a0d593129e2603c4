package model

import "time"

// IssueDraft is the payload for creating a tracker issue.
type IssueDraft struct {
	Title string
	Body  string
	Meta  Meta
}

// Issue is a tracker issue with its embedded metadata already decoded.
type Issue struct {
	// ID is the tracker's issue number. It doubles as the thread id
	// carried in reply subjects.
	ID int64 `json:"id"`

	// Title is the issue title, taken from the original mail subject.
	Title string `json:"title"`

	// Body is the caller-visible body with the metadata block stripped.
	Body string `json:"body"`

	// Meta is the decoded provenance record.
	Meta Meta `json:"meta"`

	// CreatedAt is when the tracker created the issue.
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a tracker comment with its embedded metadata decoded.
type Comment struct {
	// ID is zero until the comment has been persisted.
	ID int64 `json:"id,omitempty"`

	// IssueID is the issue the comment belongs to.
	IssueID int64 `json:"issue_id"`

	// Body is the caller-visible body with the metadata block stripped.
	Body string `json:"body"`

	// Meta is the decoded provenance record.
	Meta Meta `json:"meta"`

	// CreatedAt is when the comment was written.
	CreatedAt time.Time `json:"created_at"`
}

// Persisted reports whether the tracker already holds this comment.
func (c Comment) Persisted() bool {
	return c.ID != 0
}

// Clone returns a deep copy of c.
func (c Comment) Clone() Comment {
	out := c
	out.Meta = c.Meta.Clone()
	return out
}

// Cursor is the persisted high-water mark of inbound synchronization.
type Cursor struct {
	// LastUID is the highest mailbox UID already dispatched. Empty on
	// the first run.
	LastUID string

	// LastSyncedAt is when the cursor was last advanced.
	LastSyncedAt time.Time
}
