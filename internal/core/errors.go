package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the service. Messages double as the patterns
// MapError matches on, so keep them in sync with errorPatterns.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoFiles          = errors.New("no file provided")
	ErrNoValidFiles     = errors.New("no valid files uploaded")
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrQueryMissing     = errors.New("query not provided")
	ErrNoDataSelected   = errors.New("no data selected")
	ErrNoResponseYet    = errors.New("no conversation response found")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrMissingArtifact  = errors.New("image file not found")
	ErrTooManyQueries   = errors.New("too many concurrent queries, please try again later")
)

// QueryError carries a failure raised by the query engine. The service
// returns it in place of a Response; the session's stored response is left
// untouched.
type QueryError struct {
	Engine   string
	Strategy Strategy
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryError reports whether err is or wraps a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
