package github

import "time"

// ErrorResponse is the error body returned by the GitHub API.
type ErrorResponse struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url,omitempty"`
}

// User is a GitHub account.
type User struct {
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Issue is a GitHub issue. Pull requests share the issue endpoints and
// carry a non-nil PullRequest.
type Issue struct {
	Number      int64     `json:"number"`
	Title       string    `json:"title"`
	Body        *string   `json:"body"`
	User        User      `json:"user"`
	CreatedAt   time.Time `json:"created_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

// Comment is a comment on an issue.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	IssueURL  string    `json:"issue_url,omitempty"`
}

// Variable is a GitHub Actions repository variable.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// issueRequest is the body of issue create and update calls.
type issueRequest struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// commentRequest is the body of comment create and update calls.
type commentRequest struct {
	Body string `json:"body"`
}

// CommentEvent is the subset of an issue_comment webhook payload used
// to route comments.
type CommentEvent struct {
	Action  string  `json:"action"`
	Issue   Issue   `json:"issue"`
	Comment Comment `json:"comment"`
	Sender  User    `json:"sender"`
}
