// Package webhook receives GitHub issue_comment deliveries over HTTP and
// forwards them to the comment router.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/logging"
	"github.com/nhle/mail2issue/internal/metacodec"
	"github.com/nhle/mail2issue/internal/model"
	"github.com/nhle/mail2issue/internal/router"
	"github.com/nhle/mail2issue/internal/tracker/github"
)

const (
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"
	signatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// CommentHandler handles a decoded tracker comment.
type CommentHandler interface {
	HandleCommentEvent(ctx context.Context, comment model.Comment) (router.Outcome, error)
}

// EventDecoder turns an issue_comment payload into a tracker comment.
type EventDecoder interface {
	CommentFromEvent(ctx context.Context, ev github.CommentEvent) (model.Comment, error)
}

// Server is the webhook HTTP server.
type Server struct {
	engine  *gin.Engine
	secret  []byte
	decoder EventDecoder
	handler CommentHandler
	timeout time.Duration
}

// NewServer builds the gin engine. An empty secret disables signature
// checks.
func NewServer(secret string, decoder EventDecoder, handler CommentHandler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:  gin.New(),
		secret:  []byte(secret),
		decoder: decoder,
		handler: handler,
		timeout: 2 * time.Minute,
	}
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.POST("/webhook", s.handleDelivery)
	return s
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Log.WithField("addr", addr).Info("Webhook server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving webhook on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down webhook server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleDelivery(c *gin.Context) {
	log := logging.Trace().WithFields(logrus.Fields{
		"delivery": c.GetHeader(deliveryHeader),
		"event":    c.GetHeader(eventHeader),
	})

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !s.verify(payload, c.GetHeader(signatureHeader)) {
		log.Warn("Rejected delivery with bad signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	switch c.GetHeader(eventHeader) {
	case "ping":
		c.JSON(http.StatusOK, gin.H{"status": "pong"})
		return
	case "issue_comment":
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "reason": "unsupported event"})
		return
	}

	ev, err := github.ParseCommentEvent(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log = log.WithFields(logrus.Fields{
		"issue":   ev.Issue.Number,
		"comment": ev.Comment.ID,
	})

	if ev.Action != "created" {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "reason": "action " + ev.Action})
		return
	}
	// Our own writes come back as deliveries too.
	if metacodec.Tagged(ev.Comment.Body) {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "reason": "already tagged"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	comment, err := s.decoder.CommentFromEvent(ctx, ev)
	if errors.Is(err, github.ErrPullRequest) {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "reason": "pull request"})
		return
	}
	if err != nil {
		log.WithError(err).Error("Decoding comment failed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	out, err := s.handler.HandleCommentEvent(ctx, comment)
	switch {
	case errors.Is(err, gateway.ErrAlreadyTagged):
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "reason": "already tagged"})
	case errors.Is(err, router.ErrNoRecipients), errors.Is(err, gateway.ErrNotFound), errors.Is(err, gateway.ErrIssueBodyEmpty):
		log.WithError(err).Warn("Comment not routed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case err != nil:
		log.WithError(err).Error("Handling comment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		log.WithFields(logrus.Fields{
			"type":   out.Comment.Meta.Type,
			"mailed": out.Sent != nil,
		}).Info("Comment routed")
		c.JSON(http.StatusOK, gin.H{
			"status": "handled",
			"type":   out.Comment.Meta.Type,
			"mailed": out.Sent != nil,
		})
	}
}

// verify checks the HMAC-SHA256 signature GitHub sends with each delivery.
func (s *Server) verify(payload []byte, header string) bool {
	if len(s.secret) == 0 {
		return true
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature header value for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Request")
	}
}
