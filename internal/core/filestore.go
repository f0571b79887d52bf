package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JonMunkholm/sheetquery/internal/table"
)

// DefaultMaxFileSize is used when no limit is configured (100MB).
const DefaultMaxFileSize int64 = 100 << 20

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Upload is one incoming file.
type Upload struct {
	Filename string
	Body     io.Reader
}

// FileStore writes uploads under a per-session directory.
type FileStore struct {
	dir     string
	maxSize int64
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string, maxSize int64) *FileStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &FileStore{dir: dir, maxSize: maxSize}
}

// Dir returns the root directory.
func (fs *FileStore) Dir() string { return fs.dir }

// FileFormat returns the format for an allowed filename, or "" when the
// extension is not csv or xlsx.
func FileFormat(filename string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case FormatCSV:
		return FormatCSV
	case FormatXLSX:
		return FormatXLSX
	}
	return ""
}

// SanitizeFilename strips directories and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Trim(unsafeFilenameChars.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "upload"
	}
	return name
}

// Save writes up into the session's directory and enumerates its sheets.
// A name already taken in the session gets a numeric suffix ("a_1.csv").
// If a workbook's sheets cannot be listed, the saved record (with no sheets)
// is returned along with the error.
func (fs *FileStore) Save(sessionID string, up Upload) (*FileRecord, error) {
	format := FileFormat(up.Filename)
	if format == "" {
		return nil, fmt.Errorf("%s: %w", up.Filename, ErrUnsupportedFile)
	}

	name := SanitizeFilename(up.Filename)
	dir := filepath.Join(fs.dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	name = uniqueName(dir, name)
	path := filepath.Join(dir, name)

	if err := fs.write(path, up.Body); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("save %s: %w", name, err)
	}

	rec := &FileRecord{
		Filename: name,
		Path:     path,
		Format:   format,
		Tables:   []string{},
		Selected: []string{},
	}
	if format == FormatXLSX {
		sheets, err := table.SheetNames(path)
		if err != nil {
			return rec, fmt.Errorf("list sheets of %s: %w", name, err)
		}
		rec.Tables = sheets
	}
	return rec, nil
}

// uniqueName returns name, or stem_N.ext for the first N not yet present
// in dir.
func uniqueName(dir, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; ; n++ {
		if _, err := os.Lstat(filepath.Join(dir, candidate)); err != nil {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}

func (fs *FileStore) write(path string, body io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	n, err := io.Copy(f, io.LimitReader(body, fs.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n > fs.maxSize {
		return ErrFileTooLarge
	}
	return nil
}

// Remove deletes everything stored for a session.
func (fs *FileStore) Remove(sessionID string) error {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return errors.New("invalid session id")
	}
	return os.RemoveAll(filepath.Join(fs.dir, sessionID))
}
