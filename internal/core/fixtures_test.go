package core

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetquery/internal/engine"
	"github.com/JonMunkholm/sheetquery/internal/history"
	"github.com/JonMunkholm/sheetquery/internal/table"
)

// engineCall is one recorded call to fakeEngine.
type engineCall struct {
	Method string
	Tables []*table.Table
	Query  string
}

// fakeEngine records every call and replies with a fixed result.
type fakeEngine struct {
	mu     sync.Mutex
	calls  []engineCall
	result engine.Result
	err    error
	panic  any
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) AskTable(_ context.Context, t *table.Table, query string) (engine.Result, error) {
	return f.record("AskTable", []*table.Table{t}, query)
}

func (f *fakeEngine) AskTables(_ context.Context, tables []*table.Table, query string) (engine.Result, error) {
	return f.record("AskTables", tables, query)
}

func (f *fakeEngine) record(method string, tables []*table.Table, query string) (engine.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, engineCall{Method: method, Tables: tables, Query: query})
	f.mu.Unlock()
	if f.panic != nil {
		panic(f.panic)
	}
	return f.result, f.err
}

func (f *fakeEngine) Calls() []engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engineCall(nil), f.calls...)
}

// blockingEngine holds each call until a value arrives on release. Every
// call announces its query on started before blocking.
type blockingEngine struct {
	started chan string
	release chan struct{}

	active atomic.Int32
	peak   atomic.Int32
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		started: make(chan string, 8),
		release: make(chan struct{}),
	}
}

func (b *blockingEngine) Name() string { return "blocking" }

func (b *blockingEngine) AskTable(ctx context.Context, _ *table.Table, query string) (engine.Result, error) {
	return b.ask(ctx, query)
}

func (b *blockingEngine) AskTables(ctx context.Context, _ []*table.Table, query string) (engine.Result, error) {
	return b.ask(ctx, query)
}

func (b *blockingEngine) ask(ctx context.Context, query string) (engine.Result, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	b.started <- query
	select {
	case <-b.release:
		return engine.Result{Value: query}, nil
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
}

// memoryHistory is an in-memory history.Store.
type memoryHistory struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (m *memoryHistory) Record(_ context.Context, e history.Event) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memoryHistory) List(_ context.Context, sessionID string, limit int) ([]history.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].SessionID == sessionID {
			out = append(out, m.events[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryHistory) Close() error { return nil }

func (m *memoryHistory) Actions(sessionID string) []history.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.Action
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e.Action)
		}
	}
	return out
}

// workbookBytes builds an xlsx file with one sheet per name in order.
func workbookBytes(t *testing.T, sheets map[string][][]any, order []string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatal(err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatal(err)
		}
		for r, row := range sheets[name] {
			cell, _ := excelize.CoordinatesToCellName(1, r+1)
			values := row
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				t.Fatal(err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

// writeFile writes data under dir and returns the path.
func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// salesWorkbook has two quarters with a revenue column. Q1 has more rows
// than PreviewRows.
func salesWorkbook(t *testing.T) []byte {
	t.Helper()
	return workbookBytes(t, map[string][][]any{
		"Q1": {
			{"region", "revenue"},
			{"north", 100},
			{"south", 200},
			{"east", 10},
			{"west", 20},
			{"north", 30},
			{"south", 40},
		},
		"Q2": {
			{"region", "revenue"},
			{"north", 300},
		},
	}, []string{"Q1", "Q2"})
}

func upload(name string, data []byte) Upload {
	return Upload{Filename: name, Body: bytes.NewReader(data)}
}

func newTestService(t *testing.T, eng engine.Engine, opts Options) (*Service, *memoryHistory) {
	t.Helper()
	if opts.UploadDir == "" {
		opts.UploadDir = t.TempDir()
	}
	hist := &memoryHistory{}
	svc, err := NewService(eng, hist, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, hist
}
