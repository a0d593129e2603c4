package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/mail2issue/internal/credential"
	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/metacodec"
	"github.com/nhle/mail2issue/internal/router"
	"github.com/nhle/mail2issue/internal/tracker/github"
	"github.com/nhle/mail2issue/internal/webhook"
)

func (a *App) handleCommentCmd() *cobra.Command {
	var eventPath string

	cmd := &cobra.Command{
		Use:   "handle-comment",
		Short: "Route one issue_comment event read from a file",
		Long:  "Processes a GitHub issue_comment event payload, as found at $GITHUB_EVENT_PATH inside an Actions run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventPath == "" {
				eventPath = os.Getenv("GITHUB_EVENT_PATH")
			}
			if eventPath == "" {
				return errors.New("no event file: pass --event-path or set GITHUB_EVENT_PATH")
			}
			data, err := os.ReadFile(eventPath)
			if err != nil {
				return fmt.Errorf("reading event: %w", err)
			}
			ev, err := github.ParseCommentEvent(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if ev.Action != "created" {
				fmt.Fprintf(out, "ignored: action %s\n", ev.Action)
				return nil
			}
			if metacodec.Tagged(ev.Comment.Body) {
				fmt.Fprintln(out, "ignored: comment already tagged")
				return nil
			}

			rt, err := openRuntime(cmd.Context(), a.cfg, a.creds)
			if err != nil {
				return err
			}
			defer rt.Close()

			comment, err := rt.tracker.CommentFromEvent(cmd.Context(), ev)
			if errors.Is(err, github.ErrPullRequest) {
				fmt.Fprintln(out, "ignored: pull request comment")
				return nil
			}
			if err != nil {
				return err
			}

			outcome, err := router.New(rt.mail, rt.tracker).HandleCommentEvent(cmd.Context(), comment)
			if errors.Is(err, gateway.ErrAlreadyTagged) {
				fmt.Fprintln(out, "ignored: comment already tagged")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "comment %d on issue %d stored as %s", outcome.Comment.ID, outcome.Comment.IssueID, outcome.Comment.Meta.Type)
			if outcome.Sent != nil {
				fmt.Fprintf(out, ", mailed %d recipient(s)", len(outcome.Sent.To)+len(outcome.Sent.Cc))
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventPath, "event-path", "", "Path to the issue_comment event JSON")
	return cmd
}

func (a *App) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the issue_comment webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), a.cfg, a.creds)
			if err != nil {
				return err
			}
			defer rt.Close()

			secret, err := credential.Resolve(a.creds, a.cfg.Webhook.Secret, credential.KeyWebhookSecret)
			if err != nil && !errors.Is(err, credential.ErrNotFound) {
				return fmt.Errorf("webhook secret: %w", err)
			}
			if secret == "" {
				return errors.New("webhook secret is required: set webhook.secret or run setup")
			}

			srv := webhook.NewServer(secret, rt.tracker, router.New(rt.mail, rt.tracker))
			return srv.Run(cmd.Context(), a.cfg.Webhook.Addr)
		},
	}
	cmd.Flags().String("webhook.addr", ":8080", "Listen address")
	_ = a.v.BindPFlag("webhook.addr", cmd.Flags().Lookup("webhook.addr"))
	return cmd
}
