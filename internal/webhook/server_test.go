package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/logging"
	"github.com/nhle/mail2issue/internal/model"
	"github.com/nhle/mail2issue/internal/router"
	"github.com/nhle/mail2issue/internal/tracker/github"
)

func init() {
	logging.SetOutput(io.Discard)
}

type fakeDecoder struct {
	err error
}

func (d *fakeDecoder) CommentFromEvent(_ context.Context, ev github.CommentEvent) (model.Comment, error) {
	if d.err != nil {
		return model.Comment{}, d.err
	}
	if ev.Issue.PullRequest != nil {
		return model.Comment{}, github.ErrPullRequest
	}
	return model.Comment{
		ID:      ev.Comment.ID,
		IssueID: ev.Issue.Number,
		Body:    ev.Comment.Body,
		Meta: model.Meta{
			From: []model.Contact{{Address: ev.Comment.User.Login + "@users.noreply.github.com"}},
			Type: model.KindUnknown,
		},
	}, nil
}

type fakeHandler struct {
	calls []model.Comment
	err   error
}

func (h *fakeHandler) HandleCommentEvent(_ context.Context, c model.Comment) (router.Outcome, error) {
	h.calls = append(h.calls, c)
	if h.err != nil {
		return router.Outcome{}, h.err
	}
	c.Meta.Type = model.KindAgentReply
	return router.Outcome{Comment: c, Sent: &model.OutboundMessage{To: []string{"jane@example.com"}}}, nil
}

func commentPayload(action, body string, pullRequest bool) []byte {
	issue := map[string]interface{}{"number": 12, "title": "T", "body": "b", "user": map[string]string{"login": "jane"}}
	if pullRequest {
		issue["pull_request"] = map[string]string{"url": "https://example.com/pr/12"}
	}
	data, _ := json.Marshal(map[string]interface{}{
		"action":  action,
		"issue":   issue,
		"comment": map[string]interface{}{"id": 99, "body": body, "user": map[string]string{"login": "agent"}},
		"sender":  map[string]string{"login": "agent"},
	})
	return data
}

func deliver(t *testing.T, s *Server, event string, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set(eventHeader, event)
	req.Header.Set(deliveryHeader, "d-1")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDelivery(t *testing.T) {
	const secret = "s3cret"
	tagged := "<!--meta:{\"from\":[{\"address\":\"a@b.c\"}],\"type\":\"agent-reply\"}-->\nhi"

	tests := []struct {
		name       string
		event      string
		payload    []byte
		signature  string
		handlerErr error
		decoderErr error
		wantStatus int
		wantCalls  int
	}{
		{
			name:       "Routes created comment",
			event:      "issue_comment",
			payload:    commentPayload("created", "Thanks!", false),
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "Bad signature",
			event:      "issue_comment",
			payload:    commentPayload("created", "Thanks!", false),
			signature:  "sha256=00",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Missing signature",
			event:      "issue_comment",
			payload:    commentPayload("created", "Thanks!", false),
			signature:  "-",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Ping",
			event:      "ping",
			payload:    []byte(`{"zen":"hi"}`),
			wantStatus: http.StatusOK,
		},
		{
			name:       "Other event",
			event:      "issues",
			payload:    []byte(`{}`),
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "Routes comment quoting a tagged body",
			event:      "issue_comment",
			payload:    commentPayload("created", "As the bot said:\n> "+tagged, false),
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "Edited comment",
			event:      "issue_comment",
			payload:    commentPayload("edited", "Thanks!", false),
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "Tagged comment",
			event:      "issue_comment",
			payload:    commentPayload("created", tagged, false),
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "Pull request",
			event:      "issue_comment",
			payload:    commentPayload("created", "LGTM", true),
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "Malformed payload",
			event:      "issue_comment",
			payload:    []byte(`{"action":"created"}`),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Decoder failure",
			event:      "issue_comment",
			payload:    commentPayload("created", "x", false),
			decoderErr: fmt.Errorf("boom"),
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "Already tagged by a concurrent writer",
			event:      "issue_comment",
			payload:    commentPayload("created", "x", false),
			handlerErr: fmt.Errorf("comment 99: %w", gateway.ErrAlreadyTagged),
			wantStatus: http.StatusAccepted,
			wantCalls:  1,
		},
		{
			name:       "No recipients",
			event:      "issue_comment",
			payload:    commentPayload("created", "x", false),
			handlerErr: fmt.Errorf("issue 12: %w", router.ErrNoRecipients),
			wantStatus: http.StatusUnprocessableEntity,
			wantCalls:  1,
		},
		{
			name:       "Handler failure",
			event:      "issue_comment",
			payload:    commentPayload("created", "x", false),
			handlerErr: fmt.Errorf("sending: smtp down"),
			wantStatus: http.StatusInternalServerError,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &fakeHandler{err: tt.handlerErr}
			s := NewServer(secret, &fakeDecoder{err: tt.decoderErr}, handler)

			signature := tt.signature
			switch signature {
			case "":
				signature = Sign(secret, tt.payload)
			case "-":
				signature = ""
			}

			rec := deliver(t, s, tt.event, tt.payload, signature)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if len(handler.calls) != tt.wantCalls {
				t.Errorf("handler called %d times, want %d", len(handler.calls), tt.wantCalls)
			}
		})
	}
}

func TestDeliveryPassesComment(t *testing.T) {
	handler := &fakeHandler{}
	s := NewServer("", &fakeDecoder{}, handler)

	rec := deliver(t, s, "issue_comment", commentPayload("created", "/internal note", false), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got := handler.calls[0]
	if got.ID != 99 || got.IssueID != 12 || got.Body != "/internal note" {
		t.Errorf("comment = %+v", got)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "handled" || resp["mailed"] != true {
		t.Errorf("response = %v", resp)
	}
}

func TestHealthz(t *testing.T) {
	s := NewServer("", &fakeDecoder{}, &fakeHandler{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestSignVerifies(t *testing.T) {
	s := NewServer("k", &fakeDecoder{}, &fakeHandler{})
	payload := []byte("hello")
	if !s.verify(payload, Sign("k", payload)) {
		t.Error("verify() rejected its own signature")
	}
	if s.verify(payload, Sign("other", payload)) {
		t.Error("verify() accepted a signature made with another secret")
	}
}
