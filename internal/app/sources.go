package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mail2issue/internal/attachments"
	"github.com/nhle/mail2issue/internal/credential"
	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/logging"
	"github.com/nhle/mail2issue/internal/mail"
	"github.com/nhle/mail2issue/internal/model"
	"github.com/nhle/mail2issue/internal/store"
	appsync "github.com/nhle/mail2issue/internal/sync"
	"github.com/nhle/mail2issue/internal/tracker/github"
)

// runtime is the set of gateways a command works with.
type runtime struct {
	cfg     *model.AppConfig
	mail    *mail.Gateway
	tracker *github.Gateway

	// vars holds the sync cursor: the tracker itself or a state store.
	vars gateway.VariableStore

	// history records sync runs. Nil when no store is configured.
	history store.Store
}

// newMailGateway builds the IMAP/SMTP gateway, loading the password from
// the keyring when the config leaves it empty.
func newMailGateway(cfg *model.AppConfig, creds credential.Store) (*mail.Gateway, error) {
	password, err := credential.Resolve(creds, cfg.Mail.Password, credential.KeyMailPassword)
	if err != nil {
		return nil, fmt.Errorf("mail password: %w", err)
	}
	return mail.NewGateway(mail.Config{
		Address:  cfg.Mail.Address,
		Username: cfg.Mail.Username,
		Password: password,
		Mailbox:  cfg.Mail.Mailbox,
		IMAP:     mailServer(cfg.Mail.IMAP),
		SMTP:     mailServer(cfg.Mail.SMTP),
	}), nil
}

func mailServer(s model.ServerConfig) mail.ServerConfig {
	out := mail.ServerConfig{Host: s.Host, TLS: s.TLS}
	if s.Port > 0 {
		out.Port = strconv.Itoa(s.Port)
	}
	return out
}

// newTrackerGateway builds the GitHub gateway, loading the token from the
// keyring when the config leaves it empty.
func newTrackerGateway(cfg *model.AppConfig, creds credential.Store) (*github.Gateway, error) {
	token, err := credential.Resolve(creds, cfg.Tracker.Token, credential.KeyTrackerToken)
	if err != nil {
		return nil, fmt.Errorf("tracker token: %w", err)
	}
	client := github.NewClient(cfg.Tracker.BaseURL, token)
	return github.NewGateway(client, cfg.Tracker.Owner, cfg.Tracker.Repo), nil
}

// openRuntime wires the gateways and state stores from cfg.
func openRuntime(ctx context.Context, cfg *model.AppConfig, creds credential.Store) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mailGW, err := newMailGateway(cfg, creds)
	if err != nil {
		return nil, err
	}
	trackerGW, err := newTrackerGateway(cfg, creds)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, mail: mailGW, tracker: trackerGW}
	rt.vars, rt.history, err = openState(ctx, cfg, func() (gateway.VariableStore, error) {
		return trackerGW, nil
	})
	if err != nil {
		return nil, err
	}

	logging.Log.WithFields(logrus.Fields{
		"mailbox":     cfg.Mail.Address,
		"repo":        cfg.Tracker.Owner + "/" + cfg.Tracker.Repo,
		"state":       cfg.State.DSN,
		"history":     rt.history != nil,
		"attachments": cfg.Attachments.Dir != "",
	}).Debug("Runtime ready")
	return rt, nil
}

// openState resolves where the cursor and the run history live. tracker
// is only called when the cursor is kept in tracker variables.
func openState(
	ctx context.Context,
	cfg *model.AppConfig,
	tracker func() (gateway.VariableStore, error),
) (gateway.VariableStore, store.Store, error) {
	st, err := store.Open(ctx, cfg.State.DSN)
	switch {
	case errors.Is(err, store.ErrTrackerBackend):
	case err != nil:
		return nil, nil, fmt.Errorf("opening state store: %w", err)
	default:
		return st, st, nil
	}

	vars, err := tracker()
	if err != nil {
		return nil, nil, err
	}
	if cfg.State.HistoryDSN == "" {
		return vars, nil, nil
	}
	history, err := store.Open(ctx, cfg.State.HistoryDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening history store: %w", err)
	}
	return vars, history, nil
}

// engine builds the sync engine for rt.
func (rt *runtime) engine() *appsync.Engine {
	opts := appsync.Options{
		Limit:       rt.cfg.Mail.FetchLimit,
		Lookback:    rt.cfg.Lookback(),
		Concurrency: rt.cfg.Sync.Concurrency,
	}
	if rt.cfg.Attachments.Dir != "" {
		opts.Attachments = attachments.NewOSFileStore(rt.cfg.Attachments.Dir, rt.cfg.Attachments.BaseURL)
	}
	return appsync.NewEngine(rt.mail, rt.tracker, rt.vars, opts)
}

func (rt *runtime) Close() error {
	if rt.history != nil {
		return rt.history.Close()
	}
	return nil
}
