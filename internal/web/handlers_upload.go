package web

import (
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"

	"github.com/JonMunkholm/sheetquery/internal/core"
	"github.com/JonMunkholm/sheetquery/internal/logging"
)

const (
	// maxFilesPerUpload bounds how many files one request may carry.
	maxFilesPerUpload = 20

	// multipartMemory is how much of a multipart form is held in memory;
	// the rest spills to temporary files.
	multipartMemory = 32 << 20
)

// uploadResponse is returned by POST /api/upload.
type uploadResponse struct {
	Message   string   `json:"message"`
	ID        string   `json:"id"`
	Filenames []string `json:"filenames"`
}

// handleUpload starts a session from the "file" parts of a multipart form.
// The owner comes from the user_id query or form value.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBody())

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("upload body: %w", core.ErrFileTooLarge))
			return
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		respondError(w, r, fmt.Errorf("parse upload form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		respondError(w, r, core.ErrNoFiles)
		return
	}
	if len(headers) > maxFilesPerUpload {
		respondError(w, r, fmt.Errorf("%w: at most %d files per upload", errBadRequest, maxFilesPerUpload))
		return
	}

	uploads, closeAll, err := openParts(headers)
	defer closeAll()
	if err != nil {
		respondError(w, r, err)
		return
	}

	owner := r.URL.Query().Get("user_id")
	if owner == "" {
		owner = r.FormValue("user_id")
	}

	ctx := withRequestMetadata(r.Context(), r)
	result, err := s.service.Upload(ctx, owner, uploads)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(ctx).Info("session created",
		"session_id", result.ID,
		"files", len(result.Filenames),
	)
	writeJSON(w, r, http.StatusCreated, uploadResponse{
		Message:   "Files uploaded successfully",
		ID:        result.ID,
		Filenames: result.Filenames,
	})
}

// openParts opens every file part. closeAll is always safe to call.
func openParts(headers []*multipart.FileHeader) ([]core.Upload, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	uploads := make([]core.Upload, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open %s: %w", h.Filename, err)
		}
		files = append(files, f)
		uploads = append(uploads, core.Upload{Filename: h.Filename, Body: f})
	}
	return uploads, closeAll, nil
}

// maxUploadBody bounds the whole request: every file at the size limit plus
// room for multipart framing. A zero file limit leaves the body unbounded.
func (s *Server) maxUploadBody() int64 {
	if s.cfg.Storage.MaxFileSize <= 0 {
		return math.MaxInt64
	}
	return s.cfg.Storage.MaxFileSize*maxFilesPerUpload + 1<<20
}
