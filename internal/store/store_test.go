package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns every Store implementation that can run without
// external services.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": openSQLite(t),
	}
	if dsn := os.Getenv("MAIL2ISSUE_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := NewPostgresStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("NewPostgresStore() error: %v", err)
		}
		t.Cleanup(func() { pg.Close() })
		out["postgres"] = pg
	}
	return out
}

func TestVariables(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "lastUidSynced-" + name

			if _, ok, err := s.GetVariable(ctx, key); err != nil || ok {
				t.Fatalf("GetVariable() on empty store = ok %v, err %v", ok, err)
			}

			if err := s.SetVariable(ctx, key, "10"); err != nil {
				t.Fatalf("SetVariable() error: %v", err)
			}
			if err := s.SetVariable(ctx, key, "20"); err != nil {
				t.Fatalf("SetVariable() update error: %v", err)
			}

			got, ok, err := s.GetVariable(ctx, key)
			if err != nil || !ok || got != "20" {
				t.Errorf("GetVariable() = %q, %v, %v, want 20", got, ok, err)
			}
		})
	}
}

func TestRuns(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				err := s.RecordRun(ctx, SyncRun{
					Trigger:    "poll",
					Strategy:   "uid",
					StartedAt:  base.Add(time.Duration(i) * time.Minute),
					FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
					Fetched:    i + 1,
					Succeeded:  i,
					Failed:     1,
					LastUID:    int64(100 + i),
					Error:      "boom",
				})
				if err != nil {
					t.Fatalf("RecordRun() error: %v", err)
				}
			}

			runs, err := s.RecentRuns(ctx, 2)
			if err != nil {
				t.Fatalf("RecentRuns() error: %v", err)
			}
			if len(runs) != 2 {
				t.Fatalf("RecentRuns() returned %d runs, want 2", len(runs))
			}
			if runs[0].LastUID != 102 || runs[1].LastUID != 101 {
				t.Errorf("order = %d, %d, want 102, 101", runs[0].LastUID, runs[1].LastUID)
			}
			if runs[0].ID == "" {
				t.Error("run ID was not generated")
			}
			if !runs[0].StartedAt.Equal(base.Add(2 * time.Minute)) {
				t.Errorf("StartedAt = %v", runs[0].StartedAt)
			}
			if runs[0].Trigger != "poll" || runs[0].Error != "boom" {
				t.Errorf("run = %+v", runs[0])
			}
		})
	}
}

func TestSQLiteReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	if err := s.SetVariable(ctx, "lastSynced", "2024-05-01T10:00:00Z"); err != nil {
		t.Fatalf("SetVariable() error: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer s.Close()

	got, ok, err := s.GetVariable(ctx, "lastSynced")
	if err != nil || !ok || got != "2024-05-01T10:00:00Z" {
		t.Errorf("GetVariable() after reopen = %q, %v, %v", got, ok, err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		dsn     string
		want    string
		wantErr error
	}{
		{name: "Empty", dsn: "", wantErr: ErrTrackerBackend},
		{name: "Tracker", dsn: "github://", wantErr: ErrTrackerBackend},
		{name: "Tracker keyword", dsn: "github", wantErr: ErrTrackerBackend},
		{name: "Memory", dsn: "memory://", want: "*store.MemoryStore"},
		{name: "SQLite scheme", dsn: "sqlite://" + filepath.Join(dir, "a.db"), want: "*store.SQLiteStore"},
		{name: "Bare path", dsn: filepath.Join(dir, "b.db"), want: "*store.SQLiteStore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.dsn)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			defer s.Close()

			if got := typeName(s); got != tt.want {
				t.Errorf("Open() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := Open(ctx, "redis://localhost"); err == nil {
		t.Error("Open() accepted an unsupported scheme")
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *MemoryStore:
		return "*store.MemoryStore"
	case *SQLiteStore:
		return "*store.SQLiteStore"
	case *PostgresStore:
		return "*store.PostgresStore"
	default:
		return "unknown"
	}
}
