package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/sheetquery/internal/core"
)

type conversationRequest struct {
	Query string `json:"query"`
}

type scalarResponse struct {
	Value any `json:"value"`
}

// handleConversation asks a question about the selected tables and
// returns the normalized response.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ctx := withRequestMetadata(r.Context(), r)
	resp, err := s.service.Query(ctx, sessionID(r), req.Query)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleResponse downloads the latest response: a workbook for tables, the
// image for plots and {"value": ...} for scalars.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	ctx := withRequestMetadata(r.Context(), r)
	dl, resp, err := s.service.Export(ctx, sessionID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if dl == nil {
		writeJSON(w, r, http.StatusOK, scalarResponse{Value: resp.Value})
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(dl.Body)
}

// statusResponse reports server load for monitoring.
type statusResponse struct {
	Engine   string             `json:"engine"`
	Sessions int                `json:"sessions"`
	Queries  core.LimiterStatus `json:"queries"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, statusResponse{
		Engine:   s.service.EngineName(),
		Sessions: s.service.SessionCount(),
		Queries:  s.service.QueryLimiterStatus(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
