// Package mail implements the mailbox side of the bridge over IMAP and
// SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/model"
)

// Gateway implements gateway.MailGateway.
type Gateway struct {
	address string
	imap    *IMAPClient
	smtp    SMTPConfig
	now     func() time.Time
}

var _ gateway.MailGateway = (*Gateway)(nil)

// NewGateway creates a Gateway from cfg.
func NewGateway(cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	return &Gateway{
		address: cfg.Address,
		imap:    NewIMAPClient(cfg.IMAP, cfg.Username, cfg.Password, cfg.Mailbox),
		smtp: SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			TLS:      cfg.SMTP.TLS,
		},
		now: time.Now,
	}
}

// Address returns the mailbox address.
func (g *Gateway) Address() string {
	return g.address
}

// ValidateConnection logs in and out again.
func (g *Gateway) ValidateConnection(ctx context.Context) error {
	client, err := g.imap.Connect(ctx)
	if err != nil {
		return err
	}
	return client.Logout().Wait()
}

// FetchByUID returns up to limit messages with a UID above sinceUID,
// oldest first.
func (g *Gateway) FetchByUID(ctx context.Context, sinceUID uint32, limit int) ([]model.InboundMessage, error) {
	return g.imap.FetchSince(ctx, sinceUID, limit)
}

// FetchByDate returns up to limit of the newest messages since the
// given time.
func (g *Gateway) FetchByDate(ctx context.Context, since time.Time, limit int) ([]model.InboundMessage, error) {
	return g.imap.FetchAfter(ctx, since, limit)
}

// Send delivers msg over SMTP from the mailbox address.
func (g *Gateway) Send(ctx context.Context, msg model.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rcpts := append(append([]string(nil), msg.To...), msg.Cc...)
	if len(rcpts) == 0 {
		return errors.New("message has no recipients")
	}

	body, err := ComposeMessage(g.address, msg, g.now())
	if err != nil {
		return err
	}
	if err := sendMail(g.smtp, g.address, rcpts, body); err != nil {
		return fmt.Errorf("sending %q: %w", msg.Subject, err)
	}
	return nil
}
