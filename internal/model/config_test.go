package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Mail.Mailbox != "INBOX" || cfg.Mail.IMAP.Port != 993 || !cfg.Mail.IMAP.TLS {
		t.Errorf("mail defaults = %+v", cfg.Mail)
	}
	if cfg.Mail.FetchLimit != 30 || cfg.Sync.Concurrency != 4 {
		t.Errorf("limits = %d/%d", cfg.Mail.FetchLimit, cfg.Sync.Concurrency)
	}
	if cfg.State.DSN != "github" {
		t.Errorf("State.DSN = %q, want github", cfg.State.DSN)
	}
	if cfg.PollInterval() != 2*time.Minute || cfg.Lookback() != 24*time.Hour {
		t.Errorf("durations = %v/%v", cfg.PollInterval(), cfg.Lookback())
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
mail:
  address: support@example.com
  imap:
    host: imap.example.com
    tls: false
    port: 143
tracker:
  owner: acme
  repo: support
sync:
  concurrency: 8
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Mail.Address != "support@example.com" || cfg.Mail.IMAP.Host != "imap.example.com" {
		t.Errorf("mail = %+v", cfg.Mail)
	}
	if cfg.Mail.IMAP.TLS || cfg.Mail.IMAP.Port != 143 {
		t.Errorf("imap = %+v", cfg.Mail.IMAP)
	}
	if cfg.Mail.SMTP.Port != 465 {
		t.Errorf("smtp port = %d, want default 465", cfg.Mail.SMTP.Port)
	}
	if cfg.Sync.Concurrency != 8 || cfg.Sync.TimeoutSec != 300 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MAIL2ISSUE_TRACKER_TOKEN", "ghp_env")
	t.Setenv("MAIL2ISSUE_MAIL_FETCH_LIMIT", "5")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Tracker.Token != "ghp_env" {
		t.Errorf("Tracker.Token = %q", cfg.Tracker.Token)
	}
	if cfg.Mail.FetchLimit != 5 {
		t.Errorf("Mail.FetchLimit = %d, want 5", cfg.Mail.FetchLimit)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("mail: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := defaultAppConfig()
	cfg.Mail.Address = "support@example.com"
	cfg.Mail.Password = "secret"
	cfg.Mail.IMAP.Host = "imap.example.com"
	cfg.Tracker.Owner = "acme"
	cfg.Tracker.Repo = "support"
	cfg.Tracker.Token = "ghp_secret"
	cfg.Attachments.Dir = "/var/lib/mail2issue/files"

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "ghp_secret") {
		t.Errorf("saved config contains a secret:\n%s", raw)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.Mail.Address != cfg.Mail.Address || loaded.Tracker.Repo != "support" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Attachments.Dir != cfg.Attachments.Dir {
		t.Errorf("Attachments.Dir = %q", loaded.Attachments.Dir)
	}
	if loaded.Mail.Password != "" || loaded.Tracker.Token != "" {
		t.Error("secrets were persisted")
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultAppConfig()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}
	for _, want := range []string{"mail.address", "mail.imap.host", "tracker.owner"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
