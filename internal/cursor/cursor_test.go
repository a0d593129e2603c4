package cursor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhle/mail2issue/internal/gateway/gatewaytest"
)

func TestGetFirstRun(t *testing.T) {
	c := New(gatewaytest.NewTracker())

	got, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.LastUID != "" || !got.LastSyncedAt.IsZero() {
		t.Errorf("Get() = %+v, want zero cursor", got)
	}
}

func TestAdvanceThenGet(t *testing.T) {
	ctx := context.Background()
	tracker := gatewaytest.NewTracker()
	c := New(tracker)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := c.Advance(ctx, 20003, at); err != nil {
		t.Fatalf("Advance() error: %v", err)
	}

	got, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.LastUID != "20003" {
		t.Errorf("LastUID = %q, want 20003", got.LastUID)
	}
	if !got.LastSyncedAt.Equal(at) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, at)
	}

	vars := tracker.Variables()
	if vars[VarLastSynced] != "2024-05-01T10:00:00Z" {
		t.Errorf("%s = %q", VarLastSynced, vars[VarLastSynced])
	}
}

func TestAdvanceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tracker := gatewaytest.NewTracker()
	c := New(tracker)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := c.Advance(ctx, 7, at); err != nil {
			t.Fatalf("Advance() #%d error: %v", i, err)
		}
	}

	vars := tracker.Variables()
	if len(vars) != 2 || vars[VarLastUID] != "7" {
		t.Errorf("variables = %v", vars)
	}
}

func TestAdvanceWritesUIDLast(t *testing.T) {
	ctx := context.Background()
	tracker := gatewaytest.NewTracker()
	_ = tracker.SetVariable(ctx, VarLastUID, "5")
	tracker.Fail = func(op string, _ int64, name string) error {
		if name == VarLastSynced {
			return errors.New("forbidden")
		}
		return nil
	}

	if err := New(tracker).Advance(ctx, 9, time.Now()); err == nil {
		t.Fatal("expected error when lastSynced cannot be written")
	}
	if got := tracker.Variables()[VarLastUID]; got != "5" {
		t.Errorf("%s = %q, want 5", VarLastUID, got)
	}
}

func TestGetInvalidTimestamp(t *testing.T) {
	ctx := context.Background()
	tracker := gatewaytest.NewTracker()
	_ = tracker.SetVariable(ctx, VarLastSynced, "yesterday")

	_, err := New(tracker).Get(ctx)
	if !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("Get() error = %v, want ErrInvalidCursor", err)
	}
}

func TestParseUID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint32
		wantOK  bool
		wantErr bool
	}{
		{name: "Empty", input: "", want: 0, wantOK: false},
		{name: "Number", input: "10000", want: 10000, wantOK: true},
		{name: "Padded", input: " 42 ", want: 42, wantOK: true},
		{name: "Not a number", input: "abc", wantErr: true},
		{name: "Negative", input: "-1", wantErr: true},
		{name: "Too large", input: "4294967296", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseUID(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCursor) {
					t.Fatalf("ParseUID() error = %v, want ErrInvalidCursor", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUID() error: %v", err)
			}
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseUID() = %d, %v, want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
