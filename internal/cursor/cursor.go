// Package cursor persists the inbound sync high-water mark in a
// VariableStore.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/model"
)

const (
	// VarLastUID holds the highest mailbox UID already dispatched.
	VarLastUID = "lastUidSynced"

	// VarLastSynced holds the RFC 3339 time of the last advance.
	VarLastSynced = "lastSynced"
)

// ErrInvalidCursor is returned when a stored UID is not a number.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor reads and advances the sync position.
type Cursor struct {
	vars gateway.VariableStore
}

// New returns a Cursor backed by vars.
func New(vars gateway.VariableStore) *Cursor {
	return &Cursor{vars: vars}
}

// Get returns the stored cursor. Missing variables yield the zero
// Cursor, which is the first-run state.
func (c *Cursor) Get(ctx context.Context) (model.Cursor, error) {
	var out model.Cursor

	uid, ok, err := c.vars.GetVariable(ctx, VarLastUID)
	if err != nil {
		return out, fmt.Errorf("reading %s: %w", VarLastUID, err)
	}
	if ok {
		out.LastUID = strings.TrimSpace(uid)
	}

	synced, ok, err := c.vars.GetVariable(ctx, VarLastSynced)
	if err != nil {
		return out, fmt.Errorf("reading %s: %w", VarLastSynced, err)
	}
	if ok && strings.TrimSpace(synced) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(synced))
		if err != nil {
			return out, fmt.Errorf("%w: %s=%q", ErrInvalidCursor, VarLastSynced, synced)
		}
		out.LastSyncedAt = t
	}

	return out, nil
}

// Advance stores syncedAt and then lastUID. The UID write is the commit
// point: when it is not reached, the next cycle fetches the same batch.
// Writing the same values twice leaves the store unchanged.
func (c *Cursor) Advance(ctx context.Context, lastUID uint32, syncedAt time.Time) error {
	stamp := syncedAt.UTC().Format(time.RFC3339)
	if err := c.vars.SetVariable(ctx, VarLastSynced, stamp); err != nil {
		return fmt.Errorf("writing %s: %w", VarLastSynced, err)
	}
	uid := strconv.FormatUint(uint64(lastUID), 10)
	if err := c.vars.SetVariable(ctx, VarLastUID, uid); err != nil {
		return fmt.Errorf("writing %s: %w", VarLastUID, err)
	}
	return nil
}

// ParseUID converts a stored LastUID to a mailbox UID. An empty value
// reports ok=false.
func ParseUID(lastUID string) (uid uint32, ok bool, err error) {
	lastUID = strings.TrimSpace(lastUID)
	if lastUID == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(lastUID, 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q", ErrInvalidCursor, VarLastUID, lastUID)
	}
	return uint32(n), true, nil
}
