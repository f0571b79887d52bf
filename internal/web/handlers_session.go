package web

import (
	"net/http"

	"github.com/JonMunkholm/sheetquery/internal/core"
)

// defaultHistoryLimit is how many events /history returns without ?limit.
const defaultHistoryLimit = 50

type sheetsResponse struct {
	ID         string              `json:"id"`
	SheetsInfo map[string][]string `json:"sheets_info"`
}

type selectionsRequest struct {
	Selections []core.Selection `json:"selections"`
}

type selectionsResponse struct {
	ID         string           `json:"id"`
	Selections []core.Selection `json:"selections"`
}

type previewResponse struct {
	ID       string             `json:"id"`
	Previews []core.FilePreview `json:"previews"`
}

// handleGetSession returns the session summary.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Session(r.Context(), sessionID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

// handleListSheets returns the tables available in each uploaded file.
func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	tables, err := s.service.ListTables(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sheetsResponse{ID: id, SheetsInfo: tables})
}

// handleSelect replaces the selection of every file named in the body.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	var req selectionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Selections == nil {
		req.Selections = []core.Selection{}
	}

	ctx := withRequestMetadata(r.Context(), r)
	if err := s.service.SelectTables(ctx, id, req.Selections); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, selectionsResponse{ID: id, Selections: req.Selections})
}

// handlePreview returns sample rows of every selected table.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	previews, err := s.service.Preview(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, previewResponse{ID: id, Previews: previews})
}

// handleHistory returns the session's recorded events, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultHistoryLimit)
	events, err := s.service.History(r.Context(), sessionID(r), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}
