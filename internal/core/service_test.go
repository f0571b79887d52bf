package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetquery/internal/engine"
	"github.com/JonMunkholm/sheetquery/internal/history"
	"github.com/JonMunkholm/sheetquery/internal/table"
)

func TestNewService_Validates(t *testing.T) {
	if _, err := NewService(nil, nil, Options{UploadDir: t.TempDir()}); err == nil {
		t.Error("NewService without engine should fail")
	}
	if _, err := NewService(&fakeEngine{}, nil, Options{}); err == nil {
		t.Error("NewService without upload dir should fail")
	}
}

// Upload sales.xlsx, select both quarters, ask for total revenue.
func TestService_WorkbookScenario(t *testing.T) {
	ctx := context.Background()
	svc, hist := newTestService(t, engine.NewLocal(engine.Config{ChartsDir: t.TempDir()}), Options{})

	res, err := svc.Upload(ctx, "analyst", []Upload{upload("sales.xlsx", salesWorkbook(t))})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !reflect.DeepEqual(res.Filenames, []string{"sales.xlsx"}) {
		t.Errorf("Filenames = %v", res.Filenames)
	}

	tables, err := svc.ListTables(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tables, map[string][]string{"sales.xlsx": {"Q1", "Q2"}}) {
		t.Errorf("ListTables = %v", tables)
	}

	if err := svc.SelectTables(ctx, res.ID, []Selection{{Filename: "sales.xlsx", Sheets: []string{"Q1", "Q2"}}}); err != nil {
		t.Fatalf("SelectTables: %v", err)
	}

	previews, err := svc.Preview(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(previews) != 1 || len(previews[0].Sheets["Q1"]) != PreviewRows {
		t.Errorf("previews = %+v", previews)
	}

	resp, err := svc.Query(ctx, res.ID, "total revenue")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Type != TypeScalar || resp.Value != 700.0 {
		t.Errorf("response = %+v, want scalar 700", resp)
	}

	stored, err := svc.Response(ctx, res.ID)
	if err != nil || stored != resp {
		t.Errorf("Response = %+v, %v; want the query result", stored, err)
	}

	dl, exported, err := svc.Export(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dl != nil || exported.Value != 700.0 {
		t.Errorf("scalar export = %v, %+v", dl, exported)
	}

	want := []history.Action{history.ActionUpload, history.ActionSelect, history.ActionQuery}
	if got := hist.Actions(res.ID); !reflect.DeepEqual(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
}

// Upload two CSVs, select both, and check the engine sees both tables in
// upload order through the multi-table path.
func TestService_TwoCSVScenario(t *testing.T) {
	ctx := context.Background()
	result := table.New("corr", []string{"column", "x"})
	result.Append([]any{"x", 1.0})
	eng := &fakeEngine{result: engine.Result{Kind: engine.KindTable, Value: result}}
	svc, _ := newTestService(t, eng, Options{})

	res, err := svc.Upload(ctx, "", []Upload{
		upload("a.csv", []byte("x,y\n1,2\n3,5\n")),
		upload("b.csv", []byte("x,z\n7,8\n")),
	})
	if err != nil {
		t.Fatal(err)
	}

	tables, _ := svc.ListTables(ctx, res.ID)
	if len(tables["a.csv"]) != 0 || len(tables["b.csv"]) != 0 {
		t.Errorf("csv files should list no sheets: %v", tables)
	}

	err = svc.SelectTables(ctx, res.ID, []Selection{
		{Filename: "a.csv", Sheets: []string{DefaultTable}},
		{Filename: "b.csv", Sheets: []string{DefaultTable}},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := svc.Query(ctx, res.ID, "correlate columns")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Type != TypeTable {
		t.Errorf("Type = %s, want table", resp.Type)
	}

	calls := eng.Calls()
	if len(calls) != 1 || calls[0].Method != "AskTables" {
		t.Fatalf("calls = %+v, want one AskTables", calls)
	}
	if len(calls[0].Tables) != 2 {
		t.Fatalf("passed %d tables, want 2", len(calls[0].Tables))
	}
	if calls[0].Tables[0].Name != "a.csv" || calls[0].Tables[1].Name != "b.csv" {
		t.Errorf("table order = %s, %s", calls[0].Tables[0].Name, calls[0].Tables[1].Name)
	}

	dl, _, err := svc.Export(ctx, res.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if dl.Filename != res.ID+"_data.xlsx" {
		t.Errorf("Filename = %q", dl.Filename)
	}

	info, _ := svc.Session(ctx, res.ID)
	if info.Owner != DefaultOwner || info.ResponseType != TypeTable {
		t.Errorf("session = %+v", info)
	}
}

func TestService_NoResponseYet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeEngine{}, Options{})

	res, err := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Response(ctx, res.ID); !errors.Is(err, ErrNoResponseYet) {
		t.Errorf("Response error = %v, want ErrNoResponseYet", err)
	}
	if _, _, err := svc.Export(ctx, res.ID); !errors.Is(err, ErrNoResponseYet) {
		t.Errorf("Export error = %v, want ErrNoResponseYet", err)
	}
}

func TestService_QueryErrorKeepsPreviousResponse(t *testing.T) {
	ctx := context.Background()
	eng := &fakeEngine{result: engine.Result{Value: "first"}}
	svc, hist := newTestService(t, eng, Options{})

	res, _ := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
	svc.SelectTables(ctx, res.ID, []Selection{{Filename: "a.csv", Sheets: []string{DefaultTable}}})

	if _, err := svc.Query(ctx, res.ID, "one"); err != nil {
		t.Fatal(err)
	}

	eng.err = errors.New("engine down")
	_, err := svc.Query(ctx, res.ID, "two")
	if !IsQueryError(err) {
		t.Fatalf("error = %v, want *QueryError", err)
	}

	resp, err := svc.Response(ctx, res.ID)
	if err != nil || resp.Value != "first" {
		t.Errorf("Response = %+v, %v; want the first answer", resp, err)
	}

	actions := hist.Actions(res.ID)
	if actions[len(actions)-1] != history.ActionQueryError {
		t.Errorf("last history action = %s, want query_error", actions[len(actions)-1])
	}
}

func TestService_QueryValidation(t *testing.T) {
	ctx := context.Background()
	eng := &fakeEngine{result: engine.Result{Value: 1}}
	svc, _ := newTestService(t, eng, Options{})

	if _, err := svc.Query(ctx, "missing", "q"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session error = %v", err)
	}

	res, _ := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
	if _, err := svc.Query(ctx, res.ID, "   "); !errors.Is(err, ErrQueryMissing) {
		t.Errorf("blank query error = %v, want ErrQueryMissing", err)
	}
	if len(eng.Calls()) != 0 {
		t.Error("engine called for an invalid query")
	}
}

func TestService_ZeroTables(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatched by default", func(t *testing.T) {
		eng := &fakeEngine{result: engine.Result{Value: "nothing to see"}}
		svc, _ := newTestService(t, eng, Options{})
		res, _ := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})

		resp, err := svc.Query(ctx, res.ID, "anything")
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if resp.Type != TypeScalar {
			t.Errorf("Type = %s", resp.Type)
		}
		calls := eng.Calls()
		if len(calls) != 1 || calls[0].Method != "AskTables" || len(calls[0].Tables) != 0 {
			t.Errorf("calls = %+v, want AskTables with no tables", calls)
		}
	})

	t.Run("rejected when data is required", func(t *testing.T) {
		eng := &fakeEngine{}
		svc, _ := newTestService(t, eng, Options{RequireData: true})
		res, _ := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})

		if _, err := svc.Query(ctx, res.ID, "anything"); !errors.Is(err, ErrNoDataSelected) {
			t.Errorf("error = %v, want ErrNoDataSelected", err)
		}
		if len(eng.Calls()) != 0 {
			t.Error("engine called with no data")
		}
	})
}

func TestService_UploadErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc, _ := newTestService(t, &fakeEngine{}, Options{UploadDir: dir, MaxFileSize: 4})

	if _, err := svc.Upload(ctx, "", nil); !errors.Is(err, ErrNoFiles) {
		t.Errorf("no files error = %v, want ErrNoFiles", err)
	}
	if _, err := svc.Upload(ctx, "", []Upload{upload("notes.txt", []byte("hi"))}); !errors.Is(err, ErrNoValidFiles) {
		t.Errorf("txt only error = %v, want ErrNoValidFiles", err)
	}

	_, err := svc.Upload(ctx, "", []Upload{upload("big.csv", []byte("a,b,c\n"))})
	if !errors.Is(err, ErrNoValidFiles) || !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("oversize error = %v, want ErrNoValidFiles wrapping ErrFileTooLarge", err)
	}

	if svc.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0", svc.SessionCount())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed uploads left %d dirs behind", len(entries))
	}
}

func TestService_UploadSkipsInvalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &fakeEngine{}, Options{})

	res, err := svc.Upload(ctx, "", []Upload{
		upload("notes.txt", []byte("hi")),
		upload("a.csv", []byte("x\n1\n")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Filenames, []string{"a.csv"}) {
		t.Errorf("Filenames = %v, want [a.csv]", res.Filenames)
	}
}

func TestService_UploadRemovesUnreadableWorkbook(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc, _ := newTestService(t, &fakeEngine{}, Options{UploadDir: dir})

	res, err := svc.Upload(ctx, "", []Upload{
		upload("broken.xlsx", []byte("not a zip")),
		upload("a.csv", []byte("x\n1\n")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Filenames, []string{"a.csv"}) {
		t.Errorf("Filenames = %v, want [a.csv]", res.Filenames)
	}
	if _, err := os.Stat(filepath.Join(dir, res.ID, "broken.xlsx")); !os.IsNotExist(err) {
		t.Errorf("skipped workbook left on disk: %v", err)
	}
}

func TestService_UploadKeepsDuplicateNames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc, _ := newTestService(t, &fakeEngine{}, Options{UploadDir: dir})

	res, err := svc.Upload(ctx, "", []Upload{
		upload("a.csv", []byte("x\n1\n")),
		upload("other/a.csv", []byte("x\n2\n")),
		upload("a.csv", []byte("x\n3\n")),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.csv", "a_1.csv", "a_2.csv"}
	if !reflect.DeepEqual(res.Filenames, want) {
		t.Fatalf("Filenames = %v, want %v", res.Filenames, want)
	}

	for i, name := range want {
		data, err := os.ReadFile(filepath.Join(dir, res.ID, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if got := fmt.Sprintf("x\n%d\n", i+1); string(data) != got {
			t.Errorf("%s = %q, want %q", name, data, got)
		}
	}
}

func TestService_ExportPlot(t *testing.T) {
	ctx := context.Background()
	chart := writeFile(t, t.TempDir(), "chart.png", []byte("\x89PNG"))
	eng := &fakeEngine{result: engine.Result{Kind: engine.KindPlot, Value: chart}}
	svc, _ := newTestService(t, eng, Options{})

	res, _ := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
	if _, err := svc.Query(ctx, res.ID, "plot x"); err != nil {
		t.Fatal(err)
	}

	dl, _, err := svc.Export(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dl.Filename != res.ID+"_plot.png" || dl.ContentType != ContentTypePNG {
		t.Errorf("download = %s (%s)", dl.Filename, dl.ContentType)
	}

	os.Remove(chart)
	if _, _, err := svc.Export(ctx, res.ID); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("error = %v, want ErrArtifactNotFound", err)
	}

	events, err := svc.History(ctx, res.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Action != history.ActionExport {
		t.Errorf("latest event = %+v, want export", events)
	}
}

func TestService_HistoryFailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	svc, hist := newTestService(t, &fakeEngine{result: engine.Result{Value: 1}}, Options{})
	hist.err = errors.New("disk full")

	res, err := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
	if err != nil {
		t.Fatalf("Upload failed because of history: %v", err)
	}
	if _, err := svc.Query(ctx, res.ID, "q"); err != nil {
		t.Fatalf("Query failed because of history: %v", err)
	}
}

func TestService_ReapIdle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc, hist := newTestService(t, &fakeEngine{}, Options{UploadDir: dir, SessionTTL: time.Hour})

	res, err := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
	if err != nil {
		t.Fatal(err)
	}

	if n := svc.ReapIdle(ctx); n != 0 {
		t.Errorf("ReapIdle removed %d fresh sessions", n)
	}

	svc.registry.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if n := svc.ReapIdle(ctx); n != 1 {
		t.Fatalf("ReapIdle = %d, want 1", n)
	}

	if _, err := svc.Session(ctx, res.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired session still reachable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, res.ID)); !os.IsNotExist(err) {
		t.Error("expired session files not removed")
	}
	actions := hist.Actions(res.ID)
	if actions[len(actions)-1] != history.ActionExpire {
		t.Errorf("last action = %s, want expire", actions[len(actions)-1])
	}
}

func TestService_ReapIdleRemovesChart(t *testing.T) {
	ctx := context.Background()
	chart := writeFile(t, t.TempDir(), "chart.png", []byte("\x89PNG"))
	eng := &fakeEngine{result: engine.Result{Kind: engine.KindPlot, Value: chart}}
	svc, _ := newTestService(t, eng, Options{SessionTTL: time.Hour})

	res, err := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Query(ctx, res.ID, "plot x"); err != nil {
		t.Fatal(err)
	}

	svc.registry.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if n := svc.ReapIdle(ctx); n != 1 {
		t.Fatalf("ReapIdle = %d, want 1", n)
	}
	if _, err := os.Stat(chart); !os.IsNotExist(err) {
		t.Errorf("chart of expired session not removed: %v", err)
	}
}

func TestService_StartReaper(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.StartReaper(ctx, "not a schedule"); err == nil {
		t.Error("invalid schedule accepted")
	}
	if err := svc.StartReaper(ctx, "@every 1h"); err != nil {
		t.Fatalf("StartReaper: %v", err)
	}
	if err := svc.StartReaper(ctx, "@every 1h"); err == nil {
		t.Error("second StartReaper should fail while running")
	}
	svc.StopReaper()
	svc.StopReaper()
}

func TestService_Status(t *testing.T) {
	svc, _ := newTestService(t, &fakeEngine{}, Options{MaxConcurrentQueries: 3})

	status := svc.QueryLimiterStatus()
	if status.MaxConcurrent != 3 || status.Active != 0 {
		t.Errorf("status = %+v", status)
	}
	if svc.EngineName() != "fake" {
		t.Errorf("EngineName = %q", svc.EngineName())
	}
	if err := svc.WaitForQueries(context.Background()); err != nil {
		t.Errorf("WaitForQueries: %v", err)
	}
}

// waitStarted returns the next query the engine started, failing after d.
func waitStarted(t *testing.T, eng *blockingEngine, d time.Duration) string {
	t.Helper()
	select {
	case q := <-eng.started:
		return q
	case <-time.After(d):
		t.Fatal("engine call did not start")
		return ""
	}
}

func TestService_QueriesOnOneSessionRunInTurn(t *testing.T) {
	ctx := context.Background()
	eng := newBlockingEngine()
	svc, _ := newTestService(t, eng, Options{})
	res, err := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
	if err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 2)
	run := func(query string) {
		_, err := svc.Query(ctx, res.ID, query)
		errs <- err
	}

	go run("first")
	if q := waitStarted(t, eng, 2*time.Second); q != "first" {
		t.Fatalf("started %q, want first", q)
	}

	go run("second")
	select {
	case q := <-eng.started:
		t.Fatalf("%q started while first was still running", q)
	case <-time.After(100 * time.Millisecond):
	}

	eng.release <- struct{}{}
	if err := <-errs; err != nil {
		t.Fatalf("first query: %v", err)
	}

	if q := waitStarted(t, eng, 2*time.Second); q != "second" {
		t.Fatalf("started %q, want second", q)
	}
	eng.release <- struct{}{}
	if err := <-errs; err != nil {
		t.Fatalf("second query: %v", err)
	}

	if peak := eng.peak.Load(); peak != 1 {
		t.Errorf("peak concurrent engine calls = %d, want 1", peak)
	}
	resp, err := svc.Response(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Value != "second" {
		t.Errorf("stored response = %v, want the later query", resp.Value)
	}
}

func TestService_QueriesOnSeparateSessionsOverlap(t *testing.T) {
	ctx := context.Background()
	eng := newBlockingEngine()
	svc, _ := newTestService(t, eng, Options{MaxConcurrentQueries: 2})

	var ids []string
	for i := 0; i < 2; i++ {
		res, err := svc.Upload(ctx, "", []Upload{upload("a.csv", []byte("x\n1\n"))})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.ID)
	}

	errs := make(chan error, 2)
	for _, id := range ids {
		go func(id string) {
			_, err := svc.Query(ctx, id, "q")
			errs <- err
		}(id)
	}

	waitStarted(t, eng, 2*time.Second)
	waitStarted(t, eng, 2*time.Second)
	if active := eng.active.Load(); active != 2 {
		t.Errorf("active engine calls = %d, want 2", active)
	}

	eng.release <- struct{}{}
	eng.release <- struct{}{}
	for range ids {
		if err := <-errs; err != nil {
			t.Errorf("Query: %v", err)
		}
	}
}
