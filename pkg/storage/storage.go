// Package storage persists call transcripts outside the record store:
// local disk in development, S3 in production. The FileStore interface
// keeps the finalizer ignorant of which backend a deployment uses.
package storage

import (
	"context"
	"io"
)

// FileStore reads and writes whole files by forward-slash path relative
// to the store root. Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. The caller closes the reader. A missing
	// file yields an error wrapping os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing, truncating any previous
	// content and creating parent directories. Close flushes and
	// surfaces any write error.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Deleting a missing file is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}
