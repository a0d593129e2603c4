package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrTrackerBackend is returned by Open for DSNs that keep state in the
// tracker's own variables. The caller wires the tracker gateway instead.
var ErrTrackerBackend = errors.New("state lives in tracker variables")

// Open builds a Store from a DSN:
//
//	memory://                       in-process, for tests and dry runs
//	sqlite:///var/lib/m2i/state.db  SQLite file (also a bare path)
//	postgres://user@host/db         Postgres
//	github:// or github             tracker variables (ErrTrackerBackend)
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch strings.ToLower(dsn) {
	case "", "github", "tracker":
		return nil, ErrTrackerBackend
	case "memory":
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing state dsn: %w", err)
	}

	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "", "file", "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, dsn)
	case "github", "tracker":
		return nil, ErrTrackerBackend
	default:
		return nil, fmt.Errorf("unsupported state backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if parsed.Opaque != "" {
		path = parsed.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("state dsn %q has no path", raw)
	}
	return path, nil
}
