package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/metacodec"
	"github.com/nhle/mail2issue/internal/model"
)

// fakeGitHub serves the subset of the REST API the gateway uses.
type fakeGitHub struct {
	mu        sync.Mutex
	issues    map[int64]*Issue
	comments  map[int64]*Comment
	order     []int64
	variables map[string]string
	users     map[string]User
	nextIssue int64
	nextID    int64
	calls     []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		issues:    make(map[int64]*Issue),
		comments:  make(map[int64]*Comment),
		variables: make(map[string]string),
		users:     make(map[string]User),
		nextIssue: 1,
		nextID:    1000,
	}
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	const repo = "/repos/acme/support"

	mux.HandleFunc("POST "+repo+"/issues", func(w http.ResponseWriter, r *http.Request) {
		var req issueRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		body := req.Body
		is := &Issue{Number: f.nextIssue, Title: req.Title, Body: &body, User: User{Login: "bot"}, CreatedAt: time.Now().UTC()}
		f.issues[is.Number] = is
		f.nextIssue++
		writeJSON(w, http.StatusCreated, is)
	})
	mux.HandleFunc("GET "+repo+"/issues/{n}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		is, ok := f.issues[pathID(r, "n")]
		if !ok {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, is)
	})
	mux.HandleFunc("PATCH "+repo+"/issues/{n}", func(w http.ResponseWriter, r *http.Request) {
		var req issueRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		is, ok := f.issues[pathID(r, "n")]
		if !ok {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not Found"})
			return
		}
		body := req.Body
		is.Body = &body
		if req.Title != "" {
			is.Title = req.Title
		}
		writeJSON(w, http.StatusOK, is)
	})
	mux.HandleFunc(repo+"/issues/{a}/{b}", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.PathValue("a") == "comments" && r.Method == http.MethodGet:
			f.getComment(w, r)
		case r.PathValue("a") == "comments" && r.Method == http.MethodPatch:
			f.patchComment(w, r)
		case r.PathValue("b") == "comments" && r.Method == http.MethodGet:
			f.listComments(w, r)
		case r.PathValue("b") == "comments" && r.Method == http.MethodPost:
			f.createComment(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("GET "+repo+"/actions/variables/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		v, ok := f.variables[r.PathValue("name")]
		if !ok {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, Variable{Name: r.PathValue("name"), Value: v})
	})
	mux.HandleFunc("PATCH "+repo+"/actions/variables/{name}", func(w http.ResponseWriter, r *http.Request) {
		var v Variable
		_ = json.NewDecoder(r.Body).Decode(&v)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "PATCH "+r.PathValue("name"))
		if _, ok := f.variables[r.PathValue("name")]; !ok {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not Found"})
			return
		}
		f.variables[r.PathValue("name")] = v.Value
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST "+repo+"/actions/variables", func(w http.ResponseWriter, r *http.Request) {
		var v Variable
		_ = json.NewDecoder(r.Body).Decode(&v)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "POST "+v.Name)
		f.variables[v.Name] = v.Value
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /users/{login}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		u, ok := f.users[r.PathValue("login")]
		if !ok {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, u)
	})
	return mux
}

// addComment must be called with f.mu held.
func (f *fakeGitHub) addComment(issue int64, body string, user User) *Comment {
	c := &Comment{
		ID:        f.nextID,
		Body:      body,
		User:      user,
		CreatedAt: time.Date(2024, 5, 1, 0, 0, int(f.nextID-1000), 0, time.UTC),
		IssueURL:  fmt.Sprintf("https://api.github.com/repos/acme/support/issues/%d", issue),
	}
	f.comments[c.ID] = c
	f.order = append(f.order, c.ID)
	f.nextID++
	return c
}

func (f *fakeGitHub) createComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	issue, _ := strconv.ParseInt(r.PathValue("a"), 10, 64)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.issues[issue]; !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not Found"})
		return
	}
	writeJSON(w, http.StatusCreated, f.addComment(issue, req.Body, User{Login: "bot"}))
}

func (f *fakeGitHub) listComments(w http.ResponseWriter, r *http.Request) {
	issue, _ := strconv.ParseInt(r.PathValue("a"), 10, 64)
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if perPage <= 0 {
		perPage = 30
	}
	if page <= 0 {
		page = 1
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	all := []Comment{}
	for _, id := range f.order {
		if c := f.comments[id]; strings.HasSuffix(c.IssueURL, fmt.Sprintf("/%d", issue)) {
			all = append(all, *c)
		}
	}
	start := min((page-1)*perPage, len(all))
	end := min(start+perPage, len(all))
	writeJSON(w, http.StatusOK, all[start:end])
}

func (f *fakeGitHub) getComment(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[pathID(r, "b")]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (f *fakeGitHub) patchComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[pathID(r, "b")]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not Found"})
		return
	}
	c.Body = req.Body
	writeJSON(w, http.StatusOK, c)
}

func (f *fakeGitHub) issueBody(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.issues[id].Body
}

func (f *fakeGitHub) commentBody(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments[id].Body
}

func (f *fakeGitHub) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func pathID(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.PathValue(key), 10, 64)
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestGateway(t *testing.T) (*Gateway, *fakeGitHub) {
	t.Helper()
	fake := newFakeGitHub()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewGateway(NewClient(srv.URL, "token"), "acme", "support"), fake
}

func sampleMeta(kind model.MessageKind) model.Meta {
	return model.Meta{
		From:      []model.Contact{{Address: "jane@example.com", Name: "Jane"}},
		Type:      kind,
		UID:       42,
		MessageID: "abc@example.com",
	}
}

func TestIssueRoundTrip(t *testing.T) {
	ctx := context.Background()
	g, fake := newTestGateway(t)

	id, err := g.CreateIssue(ctx, model.IssueDraft{
		Title: "Printer on fire",
		Body:  "Please help",
		Meta:  sampleMeta(model.KindOriginal),
	})
	if err != nil {
		t.Fatalf("CreateIssue() error: %v", err)
	}

	if !metacodec.Tagged(fake.issueBody(id)) {
		t.Error("stored issue body is not tagged")
	}

	issue, err := g.GetIssue(ctx, id)
	if err != nil {
		t.Fatalf("GetIssue() error: %v", err)
	}
	if issue.Title != "Printer on fire" || issue.Body != "Please help" {
		t.Errorf("issue = %+v", issue)
	}
	if issue.Meta.UID != 42 || issue.Meta.Type != model.KindOriginal {
		t.Errorf("meta = %+v", issue.Meta)
	}

	issue.Body += "\n\nmore"
	if err := g.UpdateIssue(ctx, *issue); err != nil {
		t.Fatalf("UpdateIssue() error: %v", err)
	}
	again, err := g.GetIssue(ctx, id)
	if err != nil {
		t.Fatalf("GetIssue() after update error: %v", err)
	}
	if again.Body != "Please help\n\nmore" {
		t.Errorf("updated body = %q", again.Body)
	}
}

func TestGetIssueErrors(t *testing.T) {
	ctx := context.Background()
	g, fake := newTestGateway(t)
	empty := ""
	fake.issues[5] = &Issue{Number: 5, Title: "Empty", Body: &empty}
	broken := "<!--meta:-->\nbody"
	fake.issues[6] = &Issue{Number: 6, Title: "Broken", Body: &broken}

	if _, err := g.GetIssue(ctx, 404); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("missing issue error = %v, want ErrNotFound", err)
	}
	if _, err := g.GetIssue(ctx, 5); !errors.Is(err, gateway.ErrIssueBodyEmpty) {
		t.Errorf("empty body error = %v, want ErrIssueBodyEmpty", err)
	}
	if _, err := g.GetIssue(ctx, 6); !errors.Is(err, gateway.ErrIssueBodyEmpty) || !errors.Is(err, metacodec.ErrMetaEmpty) {
		t.Errorf("empty meta error = %v", err)
	}
}

func TestForeignIssueUsesAuthorLookup(t *testing.T) {
	ctx := context.Background()
	g, fake := newTestGateway(t)
	body := "Typed in the UI"
	fake.issues[9] = &Issue{Number: 9, Title: "Manual", Body: &body, User: User{Login: "octocat"}}
	fake.users["octocat"] = User{Login: "octocat", Name: "The Octocat", Email: "octo@github.com"}

	issue, err := g.GetIssue(ctx, 9)
	if err != nil {
		t.Fatalf("GetIssue() error: %v", err)
	}
	want := model.Contact{Address: "octo@github.com", Name: "The Octocat"}
	if len(issue.Meta.From) != 1 || issue.Meta.From[0] != want {
		t.Errorf("From = %+v, want %+v", issue.Meta.From, want)
	}
	if issue.Meta.Type != model.KindUnknown || issue.Body != body {
		t.Errorf("issue = %+v", issue)
	}
}

func TestForeignAuthorWithoutPublicEmail(t *testing.T) {
	g, _ := newTestGateway(t)

	got := g.author(context.Background(), User{Login: "ghost"})
	want := model.Contact{Address: "ghost@users.noreply.github.com", Name: "ghost"}
	if got != want {
		t.Errorf("author() = %+v, want %+v", got, want)
	}
}

func TestComments(t *testing.T) {
	ctx := context.Background()
	g, fake := newTestGateway(t)
	issueID, err := g.CreateIssue(ctx, model.IssueDraft{Title: "T", Body: "B", Meta: sampleMeta(model.KindOriginal)})
	if err != nil {
		t.Fatalf("CreateIssue() error: %v", err)
	}

	// More than one page of foreign comments.
	fake.mu.Lock()
	for i := 0; i < pageSize+5; i++ {
		fake.addComment(issueID, fmt.Sprintf("manual %d", i), User{Login: "agent"})
	}
	fake.mu.Unlock()

	id, err := g.CreateComment(ctx, model.Comment{IssueID: issueID, Body: "reply", Meta: sampleMeta(model.KindUserReply)})
	if err != nil {
		t.Fatalf("CreateComment() error: %v", err)
	}

	comments, err := g.ListComments(ctx, issueID)
	if err != nil {
		t.Fatalf("ListComments() error: %v", err)
	}
	if len(comments) != pageSize+6 {
		t.Fatalf("ListComments() returned %d comments, want %d", len(comments), pageSize+6)
	}
	last := comments[len(comments)-1]
	if last.ID != id || last.Body != "reply" || last.Meta.Type != model.KindUserReply {
		t.Errorf("last comment = %+v", last)
	}
	if comments[0].Meta.Type != model.KindUnknown || comments[0].Meta.From[0].Name != "agent" {
		t.Errorf("foreign comment = %+v", comments[0])
	}
}

func TestUpdateComment(t *testing.T) {
	ctx := context.Background()
	g, fake := newTestGateway(t)
	fake.mu.Lock()
	plain := fake.addComment(1, "/internal note", User{Login: "agent"})
	fake.mu.Unlock()

	c := model.Comment{ID: plain.ID, IssueID: 1, Body: "note", Meta: sampleMeta(model.KindInternalNote)}
	if err := g.UpdateComment(ctx, c); err != nil {
		t.Fatalf("UpdateComment() error: %v", err)
	}
	if !metacodec.Tagged(fake.commentBody(plain.ID)) {
		t.Fatal("comment was not tagged")
	}

	if err := g.UpdateComment(ctx, c); !errors.Is(err, gateway.ErrAlreadyTagged) {
		t.Errorf("second UpdateComment() error = %v, want ErrAlreadyTagged", err)
	}
	if err := g.UpdateComment(ctx, model.Comment{ID: 1, Meta: sampleMeta(model.KindInternalNote)}); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("missing comment error = %v, want ErrNotFound", err)
	}
}

func TestVariables(t *testing.T) {
	ctx := context.Background()
	g, fake := newTestGateway(t)

	if _, ok, err := g.GetVariable(ctx, "lastUidSynced"); err != nil || ok {
		t.Fatalf("GetVariable() on missing = ok %v, err %v", ok, err)
	}

	if err := g.SetVariable(ctx, "lastUidSynced", "10"); err != nil {
		t.Fatalf("SetVariable() create error: %v", err)
	}
	if err := g.SetVariable(ctx, "lastUidSynced", "20"); err != nil {
		t.Fatalf("SetVariable() update error: %v", err)
	}

	got, ok, err := g.GetVariable(ctx, "lastUidSynced")
	if err != nil || !ok || got != "20" {
		t.Errorf("GetVariable() = %q, %v, %v", got, ok, err)
	}

	want := []string{"PATCH lastUidSynced", "POST lastUidSynced", "PATCH lastUidSynced"}
	if got := fake.callLog(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestClientAuthAndRetry(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, Variable{Name: "x", Value: "y"})
	}))
	defer srv.Close()

	var v Variable
	if err := NewClient(srv.URL, "good").Get(context.Background(), "/x", &v); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	mu.Lock()
	n := attempts
	mu.Unlock()
	if v.Value != "y" || n != 2 {
		t.Errorf("value = %q after %d attempts", v.Value, n)
	}

	err := NewClient(srv.URL, "bad").Get(context.Background(), "/x", &v)
	if !gateway.IsAuthError(err) {
		t.Errorf("Get() with bad token error = %v, want auth error", err)
	}
}

func TestParseCommentEvent(t *testing.T) {
	payload := `{
		"action": "created",
		"issue": {"number": 12, "title": "T", "body": "b", "user": {"login": "jane"}},
		"comment": {"id": 99, "body": "/internal hi", "user": {"login": "agent"}, "created_at": "2024-05-01T10:00:00Z"},
		"sender": {"login": "agent"}
	}`

	ev, err := ParseCommentEvent([]byte(payload))
	if err != nil {
		t.Fatalf("ParseCommentEvent() error: %v", err)
	}
	if ev.Action != "created" || ev.Issue.Number != 12 || ev.Comment.ID != 99 {
		t.Errorf("event = %+v", ev)
	}

	if _, err := ParseCommentEvent([]byte(`{"action":"opened","issue":{"number":1}}`)); err == nil {
		t.Error("expected error for a non-comment payload")
	}

	g, _ := newTestGateway(t)
	c, err := g.CommentFromEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("CommentFromEvent() error: %v", err)
	}
	if c.ID != 99 || c.IssueID != 12 || c.Body != "/internal hi" || c.Meta.Type != model.KindUnknown {
		t.Errorf("comment = %+v", c)
	}

	ev.Issue.PullRequest = &struct {
		URL string `json:"url"`
	}{URL: "x"}
	if _, err := g.CommentFromEvent(context.Background(), ev); !errors.Is(err, ErrPullRequest) {
		t.Errorf("pull request error = %v, want ErrPullRequest", err)
	}
}
