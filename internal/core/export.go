package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/sheetquery/internal/table"
)

// Content types served for downloads.
const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePNG  = "image/png"
)

// Download is a file produced from a session's response.
type Download struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Exporter renders table and plot responses as downloadable files.
type Exporter struct{}

// NewExporter creates an Exporter.
func NewExporter() *Exporter {
	return &Exporter{}
}

// ExportTable encodes a table response as a one-sheet workbook named
// "<sessionID>_data.xlsx".
func (e *Exporter) ExportTable(sessionID string, r *Response) (*Download, error) {
	t, err := r.Table()
	if err != nil {
		return nil, err
	}
	body, err := table.EncodeXLSX(t)
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return &Download{
		Filename:    sessionID + "_data.xlsx",
		ContentType: ContentTypeXLSX,
		Body:        body,
	}, nil
}

// ExportPlot reads the rendered image of a plot response. The download is
// named "<sessionID>_plot.<ext>".
func (e *Exporter) ExportPlot(sessionID string, r *Response) (*Download, error) {
	path, err := r.PlotPath()
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrArtifactNotFound)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = ".png"
	}
	return &Download{
		Filename:    sessionID + "_plot" + ext,
		ContentType: imageContentType(ext),
		Body:        body,
	}, nil
}

func imageContentType(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	default:
		return ContentTypePNG
	}
}
