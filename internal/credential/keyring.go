// Package credential stores and resolves the secrets mail2issue needs:
// the mailbox password, the tracker token and the webhook secret.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mail2issue"

// Keys under which secrets are stored.
const (
	KeyMailPassword  = "mail.password"
	KeyTrackerToken  = "tracker.token"
	KeyWebhookSecret = "webhook.secret"
)

// ErrNotFound is returned when a secret is neither configured nor in the
// keyring.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes secrets.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring is a Store on the operating system keyring, falling back to an
// encrypted file when no native backend is available.
type Keyring struct {
	open func() (keyring.Keyring, error)
}

// NewKeyring returns the system keyring store.
func NewKeyring() *Keyring {
	return &Keyring{open: openKeyring}
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir(),
		FilePasswordFunc:         filePassword,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func fileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".mail2issue", "credentials")
	}
	return filepath.Join(home, ".config", "mail2issue", "credentials")
}

// filePassword unlocks the file backend, which headless servers end up
// on. MAIL2ISSUE_KEYRING_PASSWORD overrides the built-in passphrase.
func filePassword(string) (string, error) {
	if p := os.Getenv("MAIL2ISSUE_KEYRING_PASSWORD"); p != "" {
		return p, nil
	}
	return "mail2issue-file-key", nil
}

// Get retrieves a credential value by key.
func (k *Keyring) Get(key string) (string, error) {
	ring, err := k.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key.
func (k *Keyring) Set(key string, value string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key.
func (k *Keyring) Delete(key string) error {
	ring, err := k.open()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Resolve returns configured when it is set, otherwise the keyring value
// stored under key. A nil store only consults configured.
func Resolve(store Store, configured, key string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	if store == nil {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return store.Get(key)
}
