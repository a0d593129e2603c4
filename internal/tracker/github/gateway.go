// Package github implements the tracker side of the bridge on GitHub
// issues, issue comments and Actions repository variables.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/metacodec"
	"github.com/nhle/mail2issue/internal/model"
)

// pageSize is the maximum page size GitHub accepts for comment lists.
const pageSize = 100

// ErrPullRequest is returned for events on pull requests, which share
// the issue comment endpoints but are not threads of this bridge.
var ErrPullRequest = errors.New("comment is on a pull request")

// Gateway implements gateway.TrackerGateway for one repository.
type Gateway struct {
	client *Client
	owner  string
	repo   string

	mu      sync.Mutex
	authors map[string]model.Contact
}

var _ gateway.TrackerGateway = (*Gateway)(nil)

// NewGateway creates a Gateway for owner/repo.
func NewGateway(client *Client, owner, repo string) *Gateway {
	return &Gateway{
		client:  client,
		owner:   owner,
		repo:    repo,
		authors: make(map[string]model.Contact),
	}
}

func (g *Gateway) repoPath(format string, args ...interface{}) string {
	return fmt.Sprintf("/repos/%s/%s", url.PathEscape(g.owner), url.PathEscape(g.repo)) +
		fmt.Sprintf(format, args...)
}

// ValidateConnection reads the repository to check the token.
func (g *Gateway) ValidateConnection(ctx context.Context) error {
	var repo struct {
		FullName string `json:"full_name"`
	}
	if err := g.client.Get(ctx, g.repoPath(""), &repo); err != nil {
		return fmt.Errorf("reading repository %s/%s: %w", g.owner, g.repo, err)
	}
	return nil
}

// CreateIssue creates an issue with a tagged body.
func (g *Gateway) CreateIssue(ctx context.Context, draft model.IssueDraft) (int64, error) {
	body, err := metacodec.Encode(draft.Body, draft.Meta)
	if err != nil {
		return 0, err
	}

	var created Issue
	err = g.client.Post(ctx, g.repoPath("/issues"), issueRequest{
		Title: draft.Title,
		Body:  body,
	}, &created)
	if err != nil {
		return 0, fmt.Errorf("creating issue %q: %w", draft.Title, err)
	}
	return created.Number, nil
}

// GetIssue reads and decodes an issue.
func (g *Gateway) GetIssue(ctx context.Context, id int64) (*model.Issue, error) {
	var raw Issue
	if err := g.client.Get(ctx, g.repoPath("/issues/%d", id), &raw); err != nil {
		return nil, g.mapNotFound(err, "issue %d", id)
	}

	if raw.Body == nil || strings.TrimSpace(*raw.Body) == "" {
		return nil, fmt.Errorf("issue %d: %w", id, gateway.ErrIssueBodyEmpty)
	}

	decoded, err := metacodec.DecodeOrForeign(*raw.Body, g.author(ctx, raw.User))
	if err != nil {
		return nil, fmt.Errorf("issue %d: %w: %w", id, gateway.ErrIssueBodyEmpty, err)
	}

	return &model.Issue{
		ID:        raw.Number,
		Title:     raw.Title,
		Body:      decoded.Body,
		Meta:      decoded.Meta,
		CreatedAt: raw.CreatedAt,
	}, nil
}

// UpdateIssue rewrites the title and tagged body of an issue.
func (g *Gateway) UpdateIssue(ctx context.Context, issue model.Issue) error {
	body, err := metacodec.Encode(issue.Body, issue.Meta)
	if err != nil {
		return err
	}
	err = g.client.Patch(ctx, g.repoPath("/issues/%d", issue.ID), issueRequest{
		Title: issue.Title,
		Body:  body,
	}, nil)
	if err != nil {
		return g.mapNotFound(err, "issue %d", issue.ID)
	}
	return nil
}

// CreateComment adds a tagged comment to an issue.
func (g *Gateway) CreateComment(ctx context.Context, c model.Comment) (int64, error) {
	body, err := metacodec.Encode(c.Body, c.Meta)
	if err != nil {
		return 0, err
	}

	var created Comment
	err = g.client.Post(ctx, g.repoPath("/issues/%d/comments", c.IssueID), commentRequest{Body: body}, &created)
	if err != nil {
		return 0, g.mapNotFound(err, "issue %d", c.IssueID)
	}
	return created.ID, nil
}

// UpdateComment replaces an untagged comment body with a tagged one.
// Comments that already carry metadata are left alone.
func (g *Gateway) UpdateComment(ctx context.Context, c model.Comment) error {
	var current Comment
	if err := g.client.Get(ctx, g.repoPath("/issues/comments/%d", c.ID), &current); err != nil {
		return g.mapNotFound(err, "comment %d", c.ID)
	}
	if metacodec.Tagged(current.Body) {
		return fmt.Errorf("comment %d: %w", c.ID, gateway.ErrAlreadyTagged)
	}

	body, err := metacodec.Encode(c.Body, c.Meta)
	if err != nil {
		return err
	}
	err = g.client.Patch(ctx, g.repoPath("/issues/comments/%d", c.ID), commentRequest{Body: body}, nil)
	if err != nil {
		return g.mapNotFound(err, "comment %d", c.ID)
	}
	return nil
}

// ListComments returns all comments of an issue, following pagination.
func (g *Gateway) ListComments(ctx context.Context, issueID int64) ([]model.Comment, error) {
	var out []model.Comment
	for page := 1; ; page++ {
		var batch []Comment
		path := g.repoPath("/issues/%d/comments?per_page=%d&page=%d", issueID, pageSize, page)
		if err := g.client.Get(ctx, path, &batch); err != nil {
			return nil, g.mapNotFound(err, "issue %d", issueID)
		}

		for _, raw := range batch {
			c, err := g.decodeComment(ctx, issueID, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}

		if len(batch) < pageSize {
			return out, nil
		}
	}
}

func (g *Gateway) decodeComment(ctx context.Context, issueID int64, raw Comment) (model.Comment, error) {
	decoded, err := metacodec.DecodeOrForeign(raw.Body, g.author(ctx, raw.User))
	if err != nil {
		return model.Comment{}, fmt.Errorf("comment %d: %w", raw.ID, err)
	}
	return model.Comment{
		ID:        raw.ID,
		IssueID:   issueID,
		Body:      decoded.Body,
		Meta:      decoded.Meta,
		CreatedAt: raw.CreatedAt,
	}, nil
}

// CommentFromEvent converts an issue_comment event into the comment the
// router handles. Foreign bodies get the commenter as sender.
func (g *Gateway) CommentFromEvent(ctx context.Context, ev CommentEvent) (model.Comment, error) {
	if ev.Issue.PullRequest != nil {
		return model.Comment{}, ErrPullRequest
	}
	return g.decodeComment(ctx, ev.Issue.Number, ev.Comment)
}

// ParseCommentEvent decodes an issue_comment webhook payload.
func ParseCommentEvent(data []byte) (CommentEvent, error) {
	var ev CommentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("parsing issue_comment event: %w", err)
	}
	if ev.Issue.Number == 0 || ev.Comment.ID == 0 {
		return ev, errors.New("event is not an issue_comment event")
	}
	return ev, nil
}

// GetVariable reads an Actions repository variable.
func (g *Gateway) GetVariable(ctx context.Context, name string) (string, bool, error) {
	var v Variable
	err := g.client.Get(ctx, g.repoPath("/actions/variables/%s", url.PathEscape(name)), &v)
	if IsStatus(err, http.StatusNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading variable %s: %w", name, err)
	}
	return v.Value, true, nil
}

// SetVariable updates an Actions repository variable, creating it when
// the update reports it missing.
func (g *Gateway) SetVariable(ctx context.Context, name, value string) error {
	v := Variable{Name: name, Value: value}

	err := g.client.Patch(ctx, g.repoPath("/actions/variables/%s", url.PathEscape(name)), v, nil)
	if err == nil {
		return nil
	}
	if !IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("updating variable %s: %w", name, err)
	}

	if err := g.client.Post(ctx, g.repoPath("/actions/variables"), v, nil); err != nil {
		return fmt.Errorf("creating variable %s: %w", name, err)
	}
	return nil
}

// author resolves the contact used for foreign bodies: the account's
// public email when it has one, otherwise its noreply address.
func (g *Gateway) author(ctx context.Context, u User) model.Contact {
	if u.Login == "" {
		return model.Contact{Address: "unknown@users.noreply.github.com", Name: "unknown"}
	}

	g.mu.Lock()
	c, ok := g.authors[u.Login]
	g.mu.Unlock()
	if ok {
		return c
	}

	c = model.Contact{
		Address: u.Login + "@users.noreply.github.com",
		Name:    u.Login,
	}
	var full User
	if err := g.client.Get(ctx, "/users/"+url.PathEscape(u.Login), &full); err == nil {
		if full.Email != "" {
			c.Address = full.Email
		}
		if full.Name != "" {
			c.Name = full.Name
		}
	}

	g.mu.Lock()
	g.authors[u.Login] = c
	g.mu.Unlock()
	return c
}

func (g *Gateway) mapNotFound(err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%s: %w: %w", what, gateway.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
