package table

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// WrapForStreaming decodes CSV input as it is read: a leading UTF-8 BOM
// (written by Excel on Windows) is dropped and invalid UTF-8 becomes U+FFFD.
// Memory use is bounded by the transform buffer, not the file size.
func WrapForStreaming(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
}
