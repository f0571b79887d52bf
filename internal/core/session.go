package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTable is the selection sentinel for the single implicit table of a
// CSV file.
const DefaultTable = "default"

// DefaultOwner labels sessions uploaded without a user id.
const DefaultOwner = "anonymous"

// File formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// FileRecord is one uploaded file within a session.
type FileRecord struct {
	Filename string   `json:"filename"`
	Path     string   `json:"-"`
	Format   string   `json:"format"`
	Tables   []string `json:"sheets"`
	Selected []string `json:"selected_sheets"`
}

// MultiTable reports whether the file holds independently addressable sheets.
func (f *FileRecord) MultiTable() bool {
	return f.Format == FormatXLSX
}

// hasTable reports whether name is selectable in this file.
func (f *FileRecord) hasTable(name string) bool {
	if !f.MultiTable() {
		return name == DefaultTable
	}
	for _, t := range f.Tables {
		if t == name {
			return true
		}
	}
	return false
}

func (f *FileRecord) clone() FileRecord {
	c := *f
	c.Tables = append([]string{}, f.Tables...)
	c.Selected = append([]string{}, f.Selected...)
	return c
}

// Session is one user's uploaded files, their selections and the latest
// query response.
//
// mu guards Files, Response and LastAccess. queryMu serializes the query
// pipeline so a session has a single writer of Response.
type Session struct {
	ID         string
	Owner      string
	CreatedAt  time.Time
	LastAccess time.Time
	Files      []*FileRecord
	Response   *Response

	mu      sync.Mutex
	queryMu sync.Mutex
}

// SessionInfo is a point-in-time copy of a session, safe to read without locks.
type SessionInfo struct {
	ID           string       `json:"id"`
	Owner        string       `json:"user_id"`
	CreatedAt    time.Time    `json:"timestamp"`
	LastAccess   time.Time    `json:"last_access"`
	Files        []FileRecord `json:"files"`
	ResponseType ResponseType `json:"response_type,omitempty"`
}

// SelectedCount returns how many tables are selected across all files.
func (s SessionInfo) SelectedCount() int {
	n := 0
	for _, f := range s.Files {
		n += len(f.Selected)
	}
	return n
}

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		ID:         s.ID,
		Owner:      s.Owner,
		CreatedAt:  s.CreatedAt,
		LastAccess: s.LastAccess,
		Files:      make([]FileRecord, len(s.Files)),
	}
	for i, f := range s.Files {
		info.Files[i] = f.clone()
	}
	if s.Response != nil {
		info.ResponseType = s.Response.Type
	}
	return info
}

// current returns the stored response, or nil.
func (s *Session) current() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Response
}

func (s *Session) setResponse(r *Response) {
	s.mu.Lock()
	s.Response = r
	s.mu.Unlock()
}

// Registry maps session ids to sessions for the life of the process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.New().String()
}

// Create stores a new session under id and returns the id. An empty id is
// replaced with a generated one.
func (r *Registry) Create(id, owner string, files []*FileRecord) string {
	if id == "" {
		id = NewSessionID()
	}
	if owner == "" {
		owner = DefaultOwner
	}
	now := r.now()
	sess := &Session{
		ID:         id,
		Owner:      owner,
		CreatedAt:  now,
		LastAccess: now,
		Files:      files,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess.ID
}

// Get looks up a session and marks it as recently used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}

	sess.mu.Lock()
	sess.LastAccess = r.now()
	sess.mu.Unlock()
	return sess, nil
}

// Snapshot returns a copy of the session's state.
func (r *Registry) Snapshot(id string) (SessionInfo, error) {
	sess, err := r.Get(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.info(), nil
}

// SetSelection overwrites the selection of every file named filename.
// Names the file does not contain are dropped. If every requested name is
// unknown the selection is left as it was; an empty list clears it. A
// filename that matches nothing is a no-op.
func (r *Registry) SetSelection(id, filename string, tables []string) error {
	sess, err := r.Get(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	for _, f := range sess.Files {
		if f.Filename != filename {
			continue
		}
		valid := make([]string, 0, len(tables))
		seen := make(map[string]bool, len(tables))
		for _, name := range tables {
			if f.hasTable(name) && !seen[name] {
				seen[name] = true
				valid = append(valid, name)
			}
		}
		if len(tables) > 0 && len(valid) == 0 {
			continue
		}
		f.Selected = valid
	}
	return nil
}

// ListAvailableTables maps each filename to its sheet names. CSV files
// report an empty list.
func (r *Registry) ListAvailableTables(id string) (map[string][]string, error) {
	sess, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make(map[string][]string, len(sess.Files))
	for _, f := range sess.Files {
		out[f.Filename] = append([]string{}, f.Tables...)
	}
	return out, nil
}

// Sweep removes sessions idle for longer than maxIdle and returns them.
func (r *Registry) Sweep(maxIdle time.Duration) []*Session {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []*Session
	for id, sess := range r.sessions {
		sess.mu.Lock()
		idle := sess.LastAccess.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(r.sessions, id)
			removed = append(removed, sess)
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
