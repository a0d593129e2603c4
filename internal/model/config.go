package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MAIL2ISSUE_MAIL_PASSWORD
// for mail.password.
const EnvPrefix = "MAIL2ISSUE"

// ServerConfig addresses one mail server.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// TLS selects implicit TLS. When false, STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// MailConfig holds the mailbox the bridge reads from and sends as.
type MailConfig struct {
	Address  string       `mapstructure:"address" yaml:"address"`
	Username string       `mapstructure:"username" yaml:"username"`
	Password string       `mapstructure:"password" yaml:"password,omitempty"`
	Mailbox  string       `mapstructure:"mailbox" yaml:"mailbox"`
	IMAP     ServerConfig `mapstructure:"imap" yaml:"imap"`
	SMTP     ServerConfig `mapstructure:"smtp" yaml:"smtp"`

	// FetchLimit caps the messages fetched per cycle.
	FetchLimit int `mapstructure:"fetch_limit" yaml:"fetch_limit"`

	// LookbackDays is the window of the first date-based fetch.
	LookbackDays int `mapstructure:"lookback_days" yaml:"lookback_days"`
}

// TrackerConfig holds the GitHub repository that hosts the issues.
type TrackerConfig struct {
	Owner   string `mapstructure:"owner" yaml:"owner"`
	Repo    string `mapstructure:"repo" yaml:"repo"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Token   string `mapstructure:"token" yaml:"token,omitempty"`
}

// StateConfig selects where the sync cursor and run history live.
type StateConfig struct {
	// DSN is "github" to keep the cursor in repository variables, or a
	// store DSN such as "sqlite:///path/state.db" or "postgres://...".
	DSN string `mapstructure:"dsn" yaml:"dsn"`

	// HistoryDSN records sync runs when the cursor lives in the tracker.
	HistoryDSN string `mapstructure:"history_dsn" yaml:"history_dsn"`
}

// SyncConfig tunes the sync loop.
type SyncConfig struct {
	Concurrency     int `mapstructure:"concurrency" yaml:"concurrency"`
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	TimeoutSec      int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// WebhookConfig holds the comment webhook listener settings.
type WebhookConfig struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`
}

// AttachmentsConfig enables attachment persistence when Dir is set.
type AttachmentsConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mail        MailConfig        `mapstructure:"mail" yaml:"mail"`
	Tracker     TrackerConfig     `mapstructure:"tracker" yaml:"tracker"`
	State       StateConfig       `mapstructure:"state" yaml:"state"`
	Sync        SyncConfig        `mapstructure:"sync" yaml:"sync"`
	Webhook     WebhookConfig     `mapstructure:"webhook" yaml:"webhook"`
	Attachments AttachmentsConfig `mapstructure:"attachments" yaml:"attachments"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// PollInterval returns the configured poll interval.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollIntervalSec) * time.Second
}

// CycleTimeout returns the configured per-cycle timeout.
func (c *AppConfig) CycleTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSec) * time.Second
}

// Lookback returns the first-run window of the date strategy.
func (c *AppConfig) Lookback() time.Duration {
	return time.Duration(c.Mail.LookbackDays) * 24 * time.Hour
}

// Validate checks the settings every command needs.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Mail.Address == "" {
		errs = append(errs, errors.New("mail.address is required"))
	}
	if c.Mail.IMAP.Host == "" {
		errs = append(errs, errors.New("mail.imap.host is required"))
	}
	if c.Tracker.Owner == "" || c.Tracker.Repo == "" {
		errs = append(errs, errors.New("tracker.owner and tracker.repo are required"))
	}
	if c.Mail.FetchLimit <= 0 {
		errs = append(errs, fmt.Errorf("mail.fetch_limit must be positive, got %d", c.Mail.FetchLimit))
	}
	if c.Sync.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("sync.concurrency must be positive, got %d", c.Sync.Concurrency))
	}
	return errors.Join(errs...)
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mail2issue/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mail2issue", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mail: MailConfig{
			Mailbox:      "INBOX",
			IMAP:         ServerConfig{Port: 993, TLS: true},
			SMTP:         ServerConfig{Port: 465, TLS: true},
			FetchLimit:   30,
			LookbackDays: 1,
		},
		Tracker: TrackerConfig{
			BaseURL: "https://api.github.com",
		},
		State: StateConfig{
			DSN: "github",
		},
		Sync: SyncConfig{
			Concurrency:     4,
			PollIntervalSec: 120,
			TimeoutSec:      300,
		},
		Webhook: WebhookConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewViper returns a viper instance carrying the defaults and the
// environment binding. Callers may bind flags to it before LoadConfigFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := defaultAppConfig()
	v.SetDefault("mail.address", "")
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.mailbox", d.Mail.Mailbox)
	v.SetDefault("mail.imap.host", "")
	v.SetDefault("mail.imap.port", d.Mail.IMAP.Port)
	v.SetDefault("mail.imap.tls", d.Mail.IMAP.TLS)
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", d.Mail.SMTP.Port)
	v.SetDefault("mail.smtp.tls", d.Mail.SMTP.TLS)
	v.SetDefault("mail.fetch_limit", d.Mail.FetchLimit)
	v.SetDefault("mail.lookback_days", d.Mail.LookbackDays)
	v.SetDefault("tracker.owner", "")
	v.SetDefault("tracker.repo", "")
	v.SetDefault("tracker.base_url", d.Tracker.BaseURL)
	v.SetDefault("tracker.token", "")
	v.SetDefault("state.dsn", d.State.DSN)
	v.SetDefault("state.history_dsn", "")
	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.poll_interval_sec", d.Sync.PollIntervalSec)
	v.SetDefault("sync.timeout_sec", d.Sync.TimeoutSec)
	v.SetDefault("webhook.addr", d.Webhook.Addr)
	v.SetDefault("webhook.secret", "")
	v.SetDefault("attachments.dir", "")
	v.SetDefault("attachments.base_url", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults plus environment overrides.
func LoadConfig(path string) (*AppConfig, error) {
	return LoadConfigFrom(NewViper(), path)
}

// LoadConfigFrom reads path into v and decodes the merged result.
func LoadConfigFrom(v *viper.Viper, path string) (*AppConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Secrets are not written; they
// belong in the keyring.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	out := *cfg
	out.Mail.Password = ""
	out.Tracker.Token = ""
	out.Webhook.Secret = ""

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mail", out.Mail)
	v.Set("tracker", out.Tracker)
	v.Set("state", out.State)
	v.Set("sync", out.Sync)
	v.Set("webhook", out.Webhook)
	v.Set("attachments", out.Attachments)
	v.Set("log", out.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
