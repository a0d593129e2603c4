package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nhle/mail2issue/internal/cursor"
	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/model"
	"github.com/nhle/mail2issue/internal/store"
	"github.com/nhle/mail2issue/internal/theme"
)

func (a *App) statusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync cursor and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vars, history, err := openState(ctx, a.cfg, func() (gateway.VariableStore, error) {
				return newTrackerGateway(a.cfg, a.creds)
			})
			if err != nil {
				return err
			}
			if history != nil {
				defer history.Close()
			}

			cur, err := cursor.New(vars).Get(ctx)
			if err != nil {
				return err
			}

			var runs []store.SyncRun
			if history != nil {
				if runs, err = history.RecentRuns(ctx, limit); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(a.cfg, cur, runs, history != nil))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	return cmd
}

// runOutcome classifies a run for display.
func runOutcome(run store.SyncRun) string {
	switch {
	case run.Error != "" && run.Succeeded == 0 && run.Failed == 0:
		return "error"
	case run.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

func renderStatus(cfg *model.AppConfig, cur model.Cursor, runs []store.SyncRun, hasHistory bool) string {
	var b strings.Builder

	b.WriteString(theme.HeaderStyle.Render("mail2issue"))
	b.WriteString("\n\n")

	lastUID := cur.LastUID
	if lastUID == "" {
		lastUID = theme.DimmedStyle.Render("none, next cycle fetches by date")
	}
	lastSynced := theme.DimmedStyle.Render("never")
	if !cur.LastSyncedAt.IsZero() {
		lastSynced = cur.LastSyncedAt.UTC().Format(time.RFC3339)
	}

	block := lipgloss.JoinVertical(lipgloss.Left,
		theme.LabelStyle.Render("Mailbox")+cfg.Mail.Address,
		theme.LabelStyle.Render("Repository")+cfg.Tracker.Owner+"/"+cfg.Tracker.Repo,
		theme.LabelStyle.Render("State")+cfg.State.DSN,
		theme.LabelStyle.Render("Last UID")+lastUID,
		theme.LabelStyle.Render("Last synced")+lastSynced,
	)
	b.WriteString(theme.BorderStyle.Render(block))
	b.WriteString("\n")

	if !hasHistory {
		b.WriteString(theme.DimmedStyle.Render("Run history is off. Set state.history_dsn to record runs."))
		return b.String()
	}
	if len(runs) == 0 {
		b.WriteString(theme.DimmedStyle.Render("No runs recorded yet."))
		return b.String()
	}

	for _, run := range runs {
		outcome := runOutcome(run)
		line := fmt.Sprintf("%s  %-5s %-4s fetched=%d ok=%d failed=%d",
			run.StartedAt.UTC().Format(time.RFC3339), run.Trigger, run.Strategy,
			run.Fetched, run.Succeeded, run.Failed)
		if run.LastUID > 0 {
			line += fmt.Sprintf(" cursor=%d", run.LastUID)
		}
		b.WriteString(theme.RunStyle(outcome).Render(fmt.Sprintf("%-7s", outcome)))
		b.WriteString(" ")
		b.WriteString(line)
		if run.Error != "" {
			b.WriteString("\n        ")
			b.WriteString(theme.DimmedStyle.Render(firstLine(run.Error)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
