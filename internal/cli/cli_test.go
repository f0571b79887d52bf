package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/sheetquery/internal/core"
	"github.com/JonMunkholm/sheetquery/internal/table"
)

// setupEnv pins the settings the CLI reads so the host environment does not leak in.
func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENGINE_PROVIDER", "local")
	t.Setenv("ENGINE_CHARTS_DIR", t.TempDir())
	t.Setenv("HISTORY_DRIVER", "none")
	t.Setenv("QUERY_REQUIRE_DATA", "false")
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func salesCSVs(t *testing.T) (string, string) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.csv", "region,revenue\neast,10\nwest,20\n")
	b := writeTemp(t, dir, "b.csv", "region,revenue\nnorth,30\n")
	return a, b
}

func TestParseSelections(t *testing.T) {
	tables := map[string][]string{
		"sales.xlsx": {"Q1", "Q2"},
		"a.csv":      {},
	}

	tests := []struct {
		name    string
		flags   []string
		want    []core.Selection
		wantErr bool
	}{
		{
			name:  "no flags selects everything",
			flags: nil,
			want: []core.Selection{
				{Filename: "a.csv", Sheets: []string{core.DefaultTable}},
				{Filename: "sales.xlsx", Sheets: []string{"Q1", "Q2"}},
			},
		},
		{
			name:  "file and sheet",
			flags: []string{"sales.xlsx=Q2", "sales.xlsx=Q1"},
			want:  []core.Selection{{Filename: "sales.xlsx", Sheets: []string{"Q2", "Q1"}}},
		},
		{
			name:  "bare csv",
			flags: []string{"a.csv"},
			want:  []core.Selection{{Filename: "a.csv", Sheets: []string{core.DefaultTable}}},
		},
		{
			name:  "path is reduced to the uploaded name",
			flags: []string{"data/sales.xlsx=Q1"},
			want:  []core.Selection{{Filename: "sales.xlsx", Sheets: []string{"Q1"}}},
		},
		{
			name:    "unknown file",
			flags:   []string{"other.csv"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSelections(tt.flags, tables)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSelections: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseSelections = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSheetsCommand(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()

	tbl := table.New("ignored", []string{"region", "revenue"})
	tbl.Append([]any{"east", 10})
	data, err := table.EncodeXLSX(tbl)
	if err != nil {
		t.Fatal(err)
	}
	book := writeTemp(t, dir, "book.xlsx", string(data))
	csvPath := writeTemp(t, dir, "a.csv", "x\n1\n")
	notes := writeTemp(t, dir, "notes.txt", "hello")

	out, errOut, err := execute(t, "sheets", book, csvPath, notes)
	if err != nil {
		t.Fatalf("sheets: %v", err)
	}

	var got map[string][]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	want := map[string][]string{"book.xlsx": {table.DefaultSheet}, "a.csv": {}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sheets = %v, want %v", got, want)
	}
	if !strings.Contains(errOut, "skipped") || !strings.Contains(errOut, "notes.txt") {
		t.Errorf("stderr = %q, want a skip warning for notes.txt", errOut)
	}
}

func TestAskCommand_JSON(t *testing.T) {
	setupEnv(t)
	a, b := salesCSVs(t)

	out, _, err := execute(t, "ask", a, b, "-q", "total revenue")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	var resp core.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.Type != core.TypeScalar || resp.Value != 60.0 {
		t.Errorf("response = %+v, want scalar 60", resp)
	}
}

func TestAskCommand_YAMLWithSelection(t *testing.T) {
	setupEnv(t)
	a, b := salesCSVs(t)

	out, _, err := execute(t, "ask", a, b, "-s", "b.csv", "-q", "total revenue", "--format", "yaml")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	var resp map[string]any
	if err := yaml.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp["type"] != "scalar" || resp["value"] != 30 {
		t.Errorf("response = %v, want scalar 30", resp)
	}
}

func TestAskCommand_OutWritesWorkbook(t *testing.T) {
	setupEnv(t)
	a, _ := salesCSVs(t)
	outPath := filepath.Join(t.TempDir(), "rows.xlsx")

	_, errOut, err := execute(t, "ask", a, "-q", "show 1 rows", "-o", outPath)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(errOut, "wrote") {
		t.Errorf("stderr = %q", errOut)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := table.DecodeXLSX(data)
	if err != nil {
		t.Fatalf("DecodeXLSX: %v", err)
	}
	if tbl.Len() != 1 {
		t.Errorf("rows = %d, want 1", tbl.Len())
	}
}

func TestAskCommand_Errors(t *testing.T) {
	setupEnv(t)
	a, _ := salesCSVs(t)

	if _, _, err := execute(t, "ask", a); err == nil {
		t.Error("ask without --query should fail")
	}
	if _, _, err := execute(t, "ask", a, "-q", "total revenue", "--format", "xml"); err == nil {
		t.Error("unknown format should fail")
	}
	_, _, err := execute(t, "ask", a, "-q", "tell me a joke")
	if !core.IsQueryError(err) {
		t.Errorf("error = %v, want *QueryError", err)
	}
}
