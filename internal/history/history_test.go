package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"", false},
		{"none", false},
		{"sqlite", false},
		{"oracle", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			store, err := Open(context.Background(), Options{
				Driver:     tt.driver,
				SQLitePath: filepath.Join(t.TempDir(), "history.db"),
			})
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			store.Close()
		})
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		action Action
		want   Severity
	}{
		{ActionUpload, SeverityLow},
		{ActionSelect, SeverityLow},
		{ActionQuery, SeverityMedium},
		{ActionExport, SeverityMedium},
		{ActionQueryError, SeverityHigh},
		{ActionExpire, SeverityHigh},
	}
	for _, tt := range tests {
		if got := severityFor(tt.action); got != tt.want {
			t.Errorf("severityFor(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

// exerciseStore runs the same checks against any driver.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []Event{
		{SessionID: "s1", Action: ActionUpload, Owner: "ana", Detail: map[string]any{"files": []any{"sales.xlsx"}}, CreatedAt: base},
		{SessionID: "s1", Action: ActionSelect, Owner: "ana", CreatedAt: base.Add(time.Second)},
		{SessionID: "s2", Action: ActionUpload, CreatedAt: base.Add(2 * time.Second)},
		{SessionID: "s1", Action: ActionQuery, Owner: "ana", Detail: map[string]any{"query": "total revenue"}, IPAddress: "10.0.0.1", CreatedAt: base.Add(3 * time.Second)},
	}
	for _, e := range events {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.List(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}

	// Newest first.
	if got[0].Action != ActionQuery || got[2].Action != ActionUpload {
		t.Errorf("order = %s, %s, %s", got[0].Action, got[1].Action, got[2].Action)
	}
	if got[0].ID == "" {
		t.Error("ID was not assigned")
	}
	if got[0].Severity != SeverityMedium {
		t.Errorf("severity = %s, want medium", got[0].Severity)
	}
	if got[0].Detail["query"] != "total revenue" {
		t.Errorf("detail = %v", got[0].Detail)
	}
	if got[0].IPAddress != "10.0.0.1" {
		t.Errorf("ip = %q", got[0].IPAddress)
	}
	if !got[0].CreatedAt.Equal(base.Add(3 * time.Second)) {
		t.Errorf("created_at = %v", got[0].CreatedAt)
	}
	if got[1].Detail != nil {
		t.Errorf("empty detail decoded as %v", got[1].Detail)
	}

	limited, err := store.List(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited = %d events, want 2", len(limited))
	}

	none, err := store.List(ctx, "missing", 0)
	if err != nil {
		t.Fatalf("List missing: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown session returned %d events", len(none))
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)
}

func TestSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("HISTORY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HISTORY_TEST_DATABASE_URL not set")
	}

	store, err := OpenPostgres(context.Background(), Options{PostgresURL: dsn})
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer store.Close()

	if _, err := store.pool.Exec(context.Background(), `DELETE FROM session_events WHERE session_id IN ('s1', 's2', 'missing')`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	exerciseStore(t, store)
}

func TestNop(t *testing.T) {
	var store Store = Nop{}
	if err := store.Record(context.Background(), Event{SessionID: "x"}); err != nil {
		t.Errorf("Record: %v", err)
	}
	events, err := store.List(context.Background(), "x", 0)
	if err != nil || events != nil {
		t.Errorf("List = %v, %v", events, err)
	}
}
