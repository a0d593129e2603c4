// Package app is the mail2issue command line: one-shot sync, the polling
// daemon, the comment webhook and the setup helpers.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nhle/mail2issue/internal/credential"
	"github.com/nhle/mail2issue/internal/logging"
	"github.com/nhle/mail2issue/internal/model"
)

// App holds the state shared by all commands.
type App struct {
	root       *cobra.Command
	v          *viper.Viper
	configPath string
	cfg        *model.AppConfig
	creds      credential.Store
}

// New builds the command tree.
func New() *App {
	a := &App{
		v:     model.NewViper(),
		creds: credential.NewKeyring(),
	}

	a.root = &cobra.Command{
		Use:           "mail2issue",
		Short:         "Bridge a support mailbox and GitHub issues",
		Long:          "Turns inbound mail into GitHub issues and comments, and mails agent comments back to the correspondents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	flags := a.root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", model.DefaultConfigPath(), "Path to the config file")
	flags.String("log.level", "info", "Log level: debug, info, warn, error")
	flags.String("log.format", "json", "Log format: json or text")
	flags.String("state.dsn", "github", "Cursor store: github, memory://, sqlite:///path, postgres://...")
	flags.String("state.history_dsn", "", "Run history store when the cursor lives in GitHub")

	for _, key := range []string{"log.level", "log.format", "state.dsn", "state.history_dsn"} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	a.root.AddCommand(
		a.syncCmd(),
		a.pollCmd(),
		a.serveCmd(),
		a.handleCommentCmd(),
		a.testMailCmd(),
		a.setupCmd(),
		a.statusCmd(),
	)
	return a
}

// Execute runs the command line and exits non-zero on failure.
// SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := New().root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func (a *App) loadConfig() error {
	cfg, err := model.LoadConfigFrom(a.v, a.configPath)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
