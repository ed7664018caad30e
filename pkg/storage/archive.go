package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// TranscriptPath returns the archive path for a call transcript,
// sharded by month so a bucket listing stays manageable:
// transcripts/2026/08/CA123.txt.
func TranscriptPath(callSid string, at time.Time) string {
	return fmt.Sprintf("transcripts/%04d/%02d/%s.txt", at.Year(), at.Month(), callSid)
}

// WriteAll writes data to the named path in a single call, closing the
// writer and surfacing any flush error.
func WriteAll(ctx context.Context, fs FileStore, path string, data []byte) error {
	w, err := fs.Write(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ReadAll reads the entire named file.
func ReadAll(ctx context.Context, fs FileStore, path string) ([]byte, error) {
	r, err := fs.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
