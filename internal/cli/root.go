// Package cli implements the sheetquery command line: the same session
// pipeline as the HTTP server, run once over local files.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetquery/internal/config"
	"github.com/JonMunkholm/sheetquery/internal/core"
	"github.com/JonMunkholm/sheetquery/internal/engine"
	"github.com/JonMunkholm/sheetquery/internal/history"
	"github.com/JonMunkholm/sheetquery/internal/logging"
)

const version = "0.1.0"

// options holds the persistent flags.
type options struct {
	format   string
	logLevel string
	provider string
	model    string
	history  bool
}

// NewRootCmd builds the command tree. Results go to out, logs to errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "sheetquery",
		Short: "Ask questions about CSV and XLSX files",
		Long: `sheetquery loads CSV and XLSX files, lets you pick sheets and answers
natural-language questions about them with the configured engine.

Engine and storage settings are read from the environment (and .env),
the same variables the server uses.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != formatJSON && opts.format != formatYAML {
				return fmt.Errorf("invalid --format %q (must be json or yaml)", opts.format)
			}
			logging.SetupWriter(errOut, opts.logLevel, "text")
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&opts.format, "format", "f", formatJSON, "output format: json or yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.provider, "engine", "", "engine provider: local, openai or anthropic (default from ENGINE_PROVIDER)")
	root.PersistentFlags().StringVar(&opts.model, "model", "", "model override for LLM engines")
	root.PersistentFlags().BoolVar(&opts.history, "history", false, "record the run in the configured history store")

	root.AddCommand(
		newSheetsCmd(opts),
		newPreviewCmd(opts),
		newAskCmd(opts),
	)
	return root
}

// Execute runs the CLI against the process's stdio.
func Execute() error {
	return NewRootCmd(os.Stdout, os.Stderr).Execute()
}

// run is one CLI invocation's service, backed by a scratch upload dir.
type run struct {
	service *core.Service
	hist    history.Store
	dir     string
}

func (r *run) Close() error {
	err := r.hist.Close()
	if rmErr := os.RemoveAll(r.dir); err == nil {
		err = rmErr
	}
	return err
}

// newRun loads configuration and builds a service. Flags override the
// environment.
func newRun(ctx context.Context, opts *options) (*run, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.provider != "" {
		cfg.Engine.Provider = opts.provider
	}
	if opts.model != "" {
		cfg.Engine.Model = opts.model
	}

	eng, err := engine.New(engine.Config{
		Provider:    cfg.Engine.Provider,
		APIKey:      cfg.Engine.APIKey(),
		Model:       cfg.Engine.Model,
		ChartsDir:   cfg.Engine.ChartsDir,
		Verbose:     cfg.Engine.Verbose,
		MaxTokens:   cfg.Engine.MaxTokens,
		ContextRows: cfg.Engine.ContextRows,
		Timeout:     cfg.Engine.Timeout,
	})
	if err != nil {
		return nil, err
	}

	var hist history.Store = history.Nop{}
	if opts.history {
		hist, err = history.Open(ctx, history.Options{
			Driver:          cfg.History.Driver,
			SQLitePath:      cfg.History.SQLitePath,
			PostgresURL:     cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
	}

	dir, err := os.MkdirTemp("", "sheetquery-*")
	if err != nil {
		hist.Close()
		return nil, err
	}

	svc, err := core.NewService(eng, hist, core.Options{
		UploadDir:   dir,
		MaxFileSize: cfg.Storage.MaxFileSize,
		RequireData: cfg.Query.RequireData,
	})
	if err != nil {
		hist.Close()
		os.RemoveAll(dir)
		return nil, err
	}
	return &run{service: svc, hist: hist, dir: dir}, nil
}

// upload opens a session over the files at paths. Files the service skips
// are reported on errOut.
func (r *run) upload(ctx context.Context, errOut io.Writer, paths []string) (*core.UploadResult, error) {
	uploads := make([]core.Upload, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		uploads = append(uploads, core.Upload{Filename: filepath.Base(p), Body: f})
	}

	res, err := r.service.Upload(ctx, currentUser(), uploads)
	if err != nil {
		return nil, err
	}

	kept := make(map[string]bool, len(res.Filenames))
	for _, name := range res.Filenames {
		kept[name] = true
	}
	for _, p := range paths {
		if name := core.SanitizeFilename(filepath.Base(p)); !kept[name] {
			fmt.Fprintf(errOut, "warning: skipped %s\n", p)
		}
	}
	return res, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return core.DefaultOwner
}
