package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mail2issue/internal/logging"
	"github.com/nhle/mail2issue/internal/store"
	appsync "github.com/nhle/mail2issue/internal/sync"
)

func (a *App) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one inbound sync cycle",
		Long:  "Fetches new mail, creates issues and comments, and advances the cursor. Exits non-zero when any message failed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), a.cfg, a.creds)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.CycleTimeout())
			defer cancel()

			report, err := rt.engine().SyncIncoming(ctx)
			rt.record("sync", report, err)
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			if n := len(report.Failures); n > 0 {
				return fmt.Errorf("%d of %d messages failed: %w", n, report.Fetched, report.Err())
			}
			return nil
		},
	}
}

func (a *App) pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run sync cycles on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), a.cfg, a.creds)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.mail.ValidateConnection(cmd.Context()); err != nil {
				return fmt.Errorf("checking mailbox: %w", err)
			}

			p := appsync.NewPoller(rt.engine(), a.cfg.PollInterval(), a.cfg.CycleTimeout())
			p.OnResult = func(r appsync.CycleResult) {
				rt.record("poll", r.Report, r.Error)
			}

			logging.Log.WithField("interval", a.cfg.PollInterval().String()).Info("Polling mailbox")
			p.Start(cmd.Context())
			<-cmd.Context().Done()
			p.Stop()
			logging.Log.WithField("cycles", p.Status().Cycles).Info("Poller stopped")
			return nil
		},
	}
}

// record stores a run in the history store when one is configured.
func (rt *runtime) record(trigger string, report appsync.Report, cycleErr error) {
	if rt.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rt.history.RecordRun(ctx, runFromReport(trigger, report, cycleErr, time.Now())); err != nil {
		logging.Log.WithError(err).Warn("Recording sync run failed")
	}
}

// runFromReport flattens a cycle into a history row.
func runFromReport(trigger string, report appsync.Report, cycleErr error, finished time.Time) store.SyncRun {
	run := store.SyncRun{
		Trigger:    trigger,
		Strategy:   string(report.Strategy),
		StartedAt:  report.StartedAt.UTC(),
		FinishedAt: finished.UTC(),
		Fetched:    report.Fetched,
		Succeeded:  report.Succeeded,
		Failed:     len(report.Failures),
		LastUID:    int64(report.LastUID),
	}
	switch {
	case cycleErr != nil:
		run.Error = cycleErr.Error()
	case report.Err() != nil:
		run.Error = report.Err().Error()
	}
	return run
}

func printReport(w io.Writer, report appsync.Report) {
	fmt.Fprintf(w, "strategy=%s fetched=%d succeeded=%d failed=%d",
		report.Strategy, report.Fetched, report.Succeeded, len(report.Failures))
	if report.LastUID > 0 {
		fmt.Fprintf(w, " cursor=%d", report.LastUID)
	}
	fmt.Fprintln(w)
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  failed: %v\n", f)
	}
}
