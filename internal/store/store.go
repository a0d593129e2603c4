package store

import (
	"context"
	"time"

	"github.com/nhle/mail2issue/internal/gateway"
)

// SyncRun is the persisted summary of one inbound cycle.
type SyncRun struct {
	ID         string    `db:"id"`
	Trigger    string    `db:"triggered_by"`
	Strategy   string    `db:"strategy"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Fetched    int       `db:"fetched"`
	Succeeded  int       `db:"succeeded"`
	Failed     int       `db:"failed"`
	LastUID    int64     `db:"last_uid"`
	Error      string    `db:"error"`
}

// Store persists the sync cursor variables and the run history.
type Store interface {
	gateway.VariableStore

	// RecordRun stores a run. A run without an ID gets a new UUID.
	RecordRun(ctx context.Context, run SyncRun) error

	// RecentRuns returns up to limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]SyncRun, error)

	Close() error
}
