package storage

import (
	"context"
	"testing"
	"time"
)

func TestTranscriptPath(t *testing.T) {
	at := time.Date(2026, time.March, 7, 14, 30, 0, 0, time.UTC)
	got := TranscriptPath("CA1234", at)
	want := "transcripts/2026/03/CA1234.txt"
	if got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
}

func TestWriteAllReadAll(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	path := TranscriptPath("CA55", time.Now())
	data := []byte("assistant: Thanks for calling.\ncaller: My car was hit.\n")
	if err := WriteAll(ctx, s, path, data); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	got, err := ReadAll(ctx, s, path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}
