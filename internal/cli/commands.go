package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetquery/internal/core"
)

func newSheetsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sheets FILE...",
		Short: "List the sheets of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := newRun(ctx, opts)
			if err != nil {
				return err
			}
			defer r.Close()

			res, err := r.upload(ctx, cmd.ErrOrStderr(), args)
			if err != nil {
				return err
			}
			tables, err := r.service.ListTables(ctx, res.ID)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.format, tables)
		},
	}
}

func newPreviewCmd(opts *options) *cobra.Command {
	var selects []string

	cmd := &cobra.Command{
		Use:   "preview FILE...",
		Short: "Show the first rows of the selected sheets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := newRun(ctx, opts)
			if err != nil {
				return err
			}
			defer r.Close()

			id, err := r.prepare(ctx, cmd, args, selects)
			if err != nil {
				return err
			}
			previews, err := r.service.Preview(ctx, id)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.format, previews)
		},
	}
	cmd.Flags().StringArrayVarP(&selects, "select", "s", nil, "FILE or FILE=SHEET to select (repeatable, default: every sheet)")
	return cmd
}

func newAskCmd(opts *options) *cobra.Command {
	var (
		selects []string
		query   string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "ask FILE...",
		Short: "Ask a question about the selected sheets",
		Example: `  sheetquery ask sales.xlsx -s sales.xlsx=Q1 -q "total revenue"
  sheetquery ask a.csv b.csv -q "show 5 rows" -o rows.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := newRun(ctx, opts)
			if err != nil {
				return err
			}
			defer r.Close()

			id, err := r.prepare(ctx, cmd, args, selects)
			if err != nil {
				return err
			}
			resp, err := r.service.Query(ctx, id, query)
			if err != nil {
				return err
			}
			if outPath == "" {
				return writeOutput(cmd.OutOrStdout(), opts.format, resp)
			}
			return r.export(ctx, cmd, id, outPath)
		},
	}
	cmd.Flags().StringArrayVarP(&selects, "select", "s", nil, "FILE or FILE=SHEET to select (repeatable, default: every sheet)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "question to ask")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the result to a file (xlsx for tables, the image for charts)")
	cmd.MarkFlagRequired("query")
	return cmd
}

// prepare uploads args and applies the selection flags.
func (r *run) prepare(ctx context.Context, cmd *cobra.Command, paths, selects []string) (string, error) {
	res, err := r.upload(ctx, cmd.ErrOrStderr(), paths)
	if err != nil {
		return "", err
	}
	tables, err := r.service.ListTables(ctx, res.ID)
	if err != nil {
		return "", err
	}
	selections, err := parseSelections(selects, tables)
	if err != nil {
		return "", err
	}
	if err := r.service.SelectTables(ctx, res.ID, selections); err != nil {
		return "", err
	}
	return res.ID, nil
}

// export writes the session's response to path. Scalars are written as text.
func (r *run) export(ctx context.Context, cmd *cobra.Command, id, path string) error {
	dl, resp, err := r.service.Export(ctx, id)
	if err != nil {
		return err
	}
	var body []byte
	if dl != nil {
		body = dl.Body
	} else {
		body = []byte(fmt.Sprintln(resp.Value))
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s)\n", path, resp.Type)
	return nil
}

// parseSelections turns FILE and FILE=SHEET flags into selections. A bare
// FILE selects every sheet of it; no flags selects everything uploaded.
// tables maps each uploaded filename to its sheets, empty for CSV.
func parseSelections(flags []string, tables map[string][]string) ([]core.Selection, error) {
	allOf := func(name string) []string {
		if sheets := tables[name]; len(sheets) > 0 {
			return sheets
		}
		return []string{core.DefaultTable}
	}

	if len(flags) == 0 {
		names := make([]string, 0, len(tables))
		for name := range tables {
			names = append(names, name)
		}
		sort.Strings(names)

		selections := make([]core.Selection, 0, len(names))
		for _, name := range names {
			selections = append(selections, core.Selection{Filename: name, Sheets: allOf(name)})
		}
		return selections, nil
	}

	var (
		order  []string
		sheets = make(map[string][]string)
	)
	for _, flag := range flags {
		file, sheet, hasSheet := strings.Cut(flag, "=")
		name := core.SanitizeFilename(file)
		if _, ok := tables[name]; !ok {
			return nil, fmt.Errorf("--select %q: no uploaded file named %s", flag, name)
		}
		if _, seen := sheets[name]; !seen {
			order = append(order, name)
			sheets[name] = nil
		}
		if !hasSheet || sheet == "" {
			sheets[name] = append(sheets[name], allOf(name)...)
			continue
		}
		sheets[name] = append(sheets[name], sheet)
	}

	selections := make([]core.Selection, 0, len(order))
	for _, name := range order {
		selections = append(selections, core.Selection{Filename: name, Sheets: sheets[name]})
	}
	return selections, nil
}
