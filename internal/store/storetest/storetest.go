// Package storetest provides state stores for tests in other packages.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/nhle/mail2issue/internal/store"
)

// NewSQLite creates a SQLite store with all migrations applied in a
// temporary directory. It automatically closes the store when the test
// completes.
func NewSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}
