package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/model"
)

const (
	testMailWait  = 5 * time.Second
	testMailLimit = 20
)

func (a *App) testMailCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "test-mail",
		Short: "Send a mail to the mailbox itself and read it back",
		RunE: func(cmd *cobra.Command, args []string) error {
			mailGW, err := newMailGateway(a.cfg, a.creds)
			if err != nil {
				return err
			}
			return checkMailRoundTrip(cmd.Context(), cmd.OutOrStdout(), mailGW, wait, time.Now)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", testMailWait, "How long to wait for delivery before reading")
	return cmd
}

// checkMailRoundTrip sends a tagged test message to the mailbox's own
// address and looks for it among the last day's mail.
func checkMailRoundTrip(
	ctx context.Context,
	out io.Writer,
	mail gateway.MailGateway,
	wait time.Duration,
	now func() time.Time,
) error {
	token := uuid.NewString()
	subject := "mail2issue connection test " + token

	fmt.Fprintf(out, "Sending test email to %s\n", mail.Address())
	err := mail.Send(ctx, model.OutboundMessage{
		To:      []string{mail.Address()},
		Subject: subject,
		Text:    "This is a test email from mail2issue.\n",
	})
	if err != nil {
		return fmt.Errorf("sending test email: %w", err)
	}

	fmt.Fprintf(out, "Waiting %s for delivery\n", wait)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	msgs, err := mail.FetchByDate(ctx, now().Add(-24*time.Hour), testMailLimit)
	if err != nil {
		return fmt.Errorf("fetching test email: %w", err)
	}
	for _, m := range msgs {
		if strings.Contains(m.Subject, token) {
			fmt.Fprintln(out, "Test email received successfully")
			return nil
		}
	}
	return fmt.Errorf("test email not found among %d recent messages", len(msgs))
}
