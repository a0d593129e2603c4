package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mail2issue/internal/credential"
	"github.com/nhle/mail2issue/internal/model"
)

// setupAnswers collects the values of the setup form.
type setupAnswers struct {
	Address       string
	IMAPHost      string
	IMAPPort      string
	SMTPHost      string
	SMTPPort      string
	TLS           bool
	Password      string
	Owner         string
	Repo          string
	Token         string
	StateDSN      string
	WebhookSecret string
}

func answersFromConfig(cfg *model.AppConfig) *setupAnswers {
	return &setupAnswers{
		Address:  cfg.Mail.Address,
		IMAPHost: cfg.Mail.IMAP.Host,
		IMAPPort: strconv.Itoa(cfg.Mail.IMAP.Port),
		SMTPHost: cfg.Mail.SMTP.Host,
		SMTPPort: strconv.Itoa(cfg.Mail.SMTP.Port),
		TLS:      cfg.Mail.IMAP.TLS,
		Owner:    cfg.Tracker.Owner,
		Repo:     cfg.Tracker.Repo,
		StateDSN: cfg.State.DSN,
	}
}

func (a *App) setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively write the config file and store secrets in the keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			ans := answersFromConfig(a.cfg)
			if err := buildSetupForm(ans).Run(); err != nil {
				return fmt.Errorf("setup form: %w", err)
			}

			cfg, err := applySetup(a.cfg, ans)
			if err != nil {
				return err
			}
			if err := storeSecrets(a.creds, ans); err != nil {
				return err
			}
			if err := model.SaveConfig(a.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", a.configPath)
			return nil
		},
	}
}

func buildSetupForm(ans *setupAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Mailbox address").
				Description("The support address mail is sent to").
				Placeholder("support@example.com").
				Value(&ans.Address).
				Validate(validateRequired("Mailbox address")),
			huh.NewInput().
				Title("IMAP Host").
				Placeholder("imap.example.com").
				Value(&ans.IMAPHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Placeholder("993").
				Value(&ans.IMAPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("SMTP Host").
				Description("Leave empty to use the IMAP host").
				Placeholder("smtp.example.com").
				Value(&ans.SMTPHost),
			huh.NewInput().
				Title("SMTP Port").
				Placeholder("465").
				Value(&ans.SMTPPort).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Implicit TLS. Choose No to upgrade with STARTTLS").
				Affirmative("Yes").
				Negative("No").
				Value(&ans.TLS),
			huh.NewInput().
				Title("Mailbox password").
				Description("Stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&ans.Password),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Repository owner").
				Value(&ans.Owner).
				Validate(validateRequired("Owner")),
			huh.NewInput().
				Title("Repository").
				Value(&ans.Repo).
				Validate(validateRequired("Repository")),
			huh.NewInput().
				Title("GitHub token").
				Description("Needs issues and Actions variables write access. Stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&ans.Token),
			huh.NewInput().
				Title("State").
				Description("github keeps the cursor in repository variables").
				Placeholder("github").
				Value(&ans.StateDSN).
				Validate(validateDSN),
			huh.NewInput().
				Title("Webhook secret").
				Description("Optional, for the serve command").
				EchoMode(huh.EchoModePassword).
				Value(&ans.WebhookSecret),
		),
	)
}

// applySetup copies the form answers onto a copy of base.
func applySetup(base *model.AppConfig, ans *setupAnswers) (*model.AppConfig, error) {
	cfg := *base
	cfg.Mail.Address = strings.TrimSpace(ans.Address)
	cfg.Mail.IMAP.Host = strings.TrimSpace(ans.IMAPHost)
	cfg.Mail.SMTP.Host = strings.TrimSpace(ans.SMTPHost)
	if cfg.Mail.SMTP.Host == "" {
		cfg.Mail.SMTP.Host = cfg.Mail.IMAP.Host
	}
	cfg.Mail.IMAP.TLS = ans.TLS
	cfg.Mail.SMTP.TLS = ans.TLS
	cfg.Tracker.Owner = strings.TrimSpace(ans.Owner)
	cfg.Tracker.Repo = strings.TrimSpace(ans.Repo)
	if dsn := strings.TrimSpace(ans.StateDSN); dsn != "" {
		cfg.State.DSN = dsn
	}

	var err error
	if cfg.Mail.IMAP.Port, err = parsePort(ans.IMAPPort); err != nil {
		return nil, fmt.Errorf("IMAP port: %w", err)
	}
	if cfg.Mail.SMTP.Port, err = parsePort(ans.SMTPPort); err != nil {
		return nil, fmt.Errorf("SMTP port: %w", err)
	}
	return &cfg, nil
}

// storeSecrets writes the non-empty secrets to the keyring.
func storeSecrets(creds credential.Store, ans *setupAnswers) error {
	secrets := []struct {
		key, value string
	}{
		{credential.KeyMailPassword, ans.Password},
		{credential.KeyTrackerToken, ans.Token},
		{credential.KeyWebhookSecret, ans.WebhookSecret},
	}
	for _, s := range secrets {
		if s.value == "" {
			continue
		}
		if err := creds.Set(s.key, s.value); err != nil {
			return err
		}
	}
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	_, err := parsePort(s)
	return err
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("port must be a number between 1 and 65535")
	}
	return n, nil
}

func validateDSN(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || s == "github" || s == "memory" {
		return nil
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid DSN: %w", err)
	}
	switch parsed.Scheme {
	case "github", "memory", "sqlite", "sqlite3", "file", "postgres", "postgresql":
		return nil
	case "":
		// bare sqlite path
		return nil
	default:
		return fmt.Errorf("unsupported state backend %q", parsed.Scheme)
	}
}
