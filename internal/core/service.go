package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/sheetquery/internal/engine"
	"github.com/JonMunkholm/sheetquery/internal/history"
	"github.com/JonMunkholm/sheetquery/internal/logging"
)

// DefaultSessionTTL is how long an idle session survives when no TTL is configured.
const DefaultSessionTTL = 2 * time.Hour

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	UploadDir            string
	MaxFileSize          int64
	SessionTTL           time.Duration
	RequireData          bool
	MaxConcurrentQueries int
	QueryWait            time.Duration
}

// Service is the entry point for every session operation. It is safe for
// concurrent use; HTTP handlers and the CLI share it unchanged.
type Service struct {
	engine       engine.Engine
	history      history.Store
	registry     *Registry
	files        *FileStore
	materializer *Materializer
	dispatcher   *Dispatcher
	exporter     *Exporter
	limiter      *QueryLimiter
	opts         Options

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewService wires a Service around eng. hist may be nil, in which case
// nothing is recorded.
func NewService(eng engine.Engine, hist history.Store, opts Options) (*Service, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if opts.UploadDir == "" {
		return nil, errors.New("upload dir is required")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if hist == nil {
		hist = history.Nop{}
	}

	return &Service{
		engine:       eng,
		history:      hist,
		registry:     NewRegistry(),
		files:        NewFileStore(opts.UploadDir, opts.MaxFileSize),
		materializer: NewMaterializer(),
		dispatcher:   NewDispatcher(eng, NewNormalizer()),
		exporter:     NewExporter(),
		limiter:      NewQueryLimiter(opts.MaxConcurrentQueries, opts.QueryWait),
		opts:         opts,
	}, nil
}

// UploadResult identifies the session created by an upload.
type UploadResult struct {
	ID        string   `json:"id"`
	Filenames []string `json:"filenames"`
}

// Upload stores the files with an allowed extension and opens a session
// over them. Files with other extensions, or that fail to save, are
// skipped. If none survive, ErrNoValidFiles is returned and no session
// is created.
func (s *Service) Upload(ctx context.Context, owner string, uploads []Upload) (*UploadResult, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	id := NewSessionID()
	logger := logging.WithFields(ctx, "session_id", id)

	var (
		records []*FileRecord
		lastErr error
	)
	for _, up := range uploads {
		rec, err := s.files.Save(id, up)
		if err != nil {
			if rec != nil {
				os.Remove(rec.Path)
			}
			logger.Warn("upload skipped", "file", up.Filename, "error", err)
			lastErr = err
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		if err := s.files.Remove(id); err != nil {
			logger.Warn("failed to clean upload dir", "error", err)
		}
		if errors.Is(lastErr, ErrFileTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrNoValidFiles, lastErr)
		}
		return nil, ErrNoValidFiles
	}

	s.registry.Create(id, owner, records)

	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Filename
	}
	if owner == "" {
		owner = DefaultOwner
	}
	logger.Info("session created", "owner", owner, "files", len(names))
	s.recordEvent(ctx, id, owner, history.ActionUpload, map[string]any{
		"filenames": names,
		"skipped":   len(uploads) - len(records),
	})

	return &UploadResult{ID: id, Filenames: names}, nil
}

// Session returns a copy of the session's current state.
func (s *Service) Session(ctx context.Context, id string) (SessionInfo, error) {
	return s.registry.Snapshot(id)
}

// ListTables maps each uploaded filename to its sheet names.
func (s *Service) ListTables(ctx context.Context, id string) (map[string][]string, error) {
	return s.registry.ListAvailableTables(id)
}

// Selection names the sheets chosen within one uploaded file. CSV files use
// DefaultTable as their only sheet.
type Selection struct {
	Filename string   `json:"filename"`
	Sheets   []string `json:"sheets"`
}

// SelectTables applies selections in order; a later entry for the same
// filename overwrites an earlier one.
func (s *Service) SelectTables(ctx context.Context, id string, selections []Selection) error {
	for _, sel := range selections {
		if err := s.registry.SetSelection(id, sel.Filename, sel.Sheets); err != nil {
			return err
		}
	}

	info, err := s.registry.Snapshot(id)
	if err != nil {
		return err
	}
	selected := make(map[string][]string, len(info.Files))
	for _, f := range info.Files {
		selected[f.Filename] = f.Selected
	}
	s.recordEvent(ctx, id, info.Owner, history.ActionSelect, map[string]any{
		"selected": selected,
	})
	return nil
}

// Preview returns up to PreviewRows rows of every selected sheet.
func (s *Service) Preview(ctx context.Context, id string) ([]FilePreview, error) {
	info, err := s.registry.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return s.materializer.Preview(logging.ContextWithSessionID(ctx, id), info.Files), nil
}

// Query loads every selected sheet, asks the engine and stores the
// normalized answer as the session's response.
//
// Queries on one session run one at a time. Engine failures come back as
// *QueryError and leave the previous response in place.
func (s *Service) Query(ctx context.Context, id, query string) (*Response, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrQueryMissing
	}

	ctx = logging.ContextWithSessionID(ctx, id)

	sess.queryMu.Lock()
	defer sess.queryMu.Unlock()

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	info := sess.info()
	c := s.materializer.Load(ctx, info.Files)
	if len(c) == 0 && s.opts.RequireData {
		return nil, ErrNoDataSelected
	}

	start := time.Now()
	resp, strategy, err := s.dispatcher.Dispatch(ctx, c, query)
	detail := map[string]any{
		"query":       query,
		"strategy":    strategy.String(),
		"tables":      c.Keys(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		detail["error"] = err.Error()
		s.recordEvent(ctx, id, info.Owner, history.ActionQueryError, detail)
		return nil, err
	}

	sess.setResponse(resp)
	detail["type"] = string(resp.Type)
	s.recordEvent(ctx, id, info.Owner, history.ActionQuery, detail)
	return resp, nil
}

// Response returns the session's latest successful answer.
func (s *Service) Response(ctx context.Context, id string) (*Response, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	resp := sess.current()
	if resp == nil {
		return nil, ErrNoResponseYet
	}
	return resp, nil
}

// Export renders the session's response for download. Table responses
// become a workbook and plot responses return the image. Scalars have
// nothing to download: the Download is nil and the caller returns the
// value itself.
func (s *Service) Export(ctx context.Context, id string) (*Download, *Response, error) {
	resp, err := s.Response(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var dl *Download
	switch resp.Type {
	case TypeTable:
		dl, err = s.exporter.ExportTable(id, resp)
	case TypePlot:
		dl, err = s.exporter.ExportPlot(id, resp)
	default:
		return nil, resp, nil
	}
	if err != nil {
		return nil, resp, err
	}

	info, _ := s.registry.Snapshot(id)
	s.recordEvent(ctx, id, info.Owner, history.ActionExport, map[string]any{
		"type":     string(resp.Type),
		"filename": dl.Filename,
		"bytes":    len(dl.Body),
	})
	return dl, resp, nil
}

// EngineName returns the name of the configured engine.
func (s *Service) EngineName() string {
	return s.engine.Name()
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	return s.registry.Len()
}

// QueryLimiterStatus reports the query limiter's current usage.
func (s *Service) QueryLimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForQueries blocks until in-flight queries finish or ctx is done.
func (s *Service) WaitForQueries(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
