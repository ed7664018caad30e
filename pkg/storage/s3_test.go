package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// apiError implements smithy.APIError for not-found assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string { return e.msg }
func (e *apiError) ErrorCode() string { return e.code }
func (e *apiError) ErrorMessage() string { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var (
	errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
	errNotFound  = &apiError{code: "NotFound", msg: "not found"}
)

// fakeS3 is an in-memory bucket with per-operation error injection.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte

	getErr    error
	putErr    error
	deleteErr error
	headErr   error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (m *fakeS3) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *fakeS3) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.put(*in.Key, data)
	return &s3.PutObjectOutput{}, nil
}

func (m *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	if !m.has(*in.Key) {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3TranscriptRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := NewS3(fake, "call-archive", "prod")
	ctx := t.Context()

	const transcript = "caller: my basement flooded\nassistant: I'm sorry to hear that.\n"
	path := TranscriptPath("CA77", time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC))
	if err := WriteAll(ctx, store, path, []byte(transcript)); err != nil {
		t.Fatal(err)
	}

	// The object lands under the configured prefix.
	if !fake.has("prod/transcripts/2026/08/CA77.txt") {
		t.Fatal("object missing under prefixed key")
	}

	got, err := ReadAll(ctx, store, path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != transcript {
		t.Fatalf("got %q, want %q", got, transcript)
	}
}

func TestS3ReadMissingWrapsNotExist(t *testing.T) {
	store := NewS3(newFakeS3(), "call-archive", "")
	_, err := store.Read(t.Context(), "transcripts/none.txt")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestS3ReadOtherErrorPassedThrough(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("network timeout")
	store := NewS3(fake, "call-archive", "")

	_, err := store.Read(t.Context(), "x")
	if err == nil || errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want plain network error", err)
	}
}

func TestS3Exists(t *testing.T) {
	fake := newFakeS3()
	store := NewS3(fake, "call-archive", "")
	ctx := t.Context()

	if ok, err := store.Exists(ctx, "missing"); err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	fake.put("present", []byte("x"))
	if ok, err := store.Exists(ctx, "present"); err != nil || !ok {
		t.Fatalf("Exists(present) = %v, %v", ok, err)
	}

	fake.headErr = errors.New("network failure")
	if _, err := store.Exists(ctx, "x"); err == nil {
		t.Fatal("head error swallowed")
	}
}

func TestS3DeleteIdempotent(t *testing.T) {
	fake := newFakeS3()
	store := NewS3(fake, "call-archive", "")
	ctx := t.Context()

	if err := store.Delete(ctx, "ghost"); err != nil {
		t.Fatalf("deleting a missing key: %v", err)
	}
	fake.put("tmp", []byte("x"))
	if err := store.Delete(ctx, "tmp"); err != nil {
		t.Fatal(err)
	}
	if fake.has("tmp") {
		t.Fatal("key still present after Delete")
	}
}

func TestS3UploadErrorSurfacesOnClose(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("upload failed")
	store := NewS3(fake, "call-archive", "")

	w, err := store.Write(t.Context(), "obj")
	if err != nil {
		t.Fatal(err)
	}
	// The pipe may already be broken; only Close's error matters.
	io.WriteString(w, "data")
	if err := w.Close(); err == nil {
		t.Fatal("upload error lost")
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"NoSuchKey", errNoSuchKey, true},
		{"NotFound", errNotFound, true},
		{"other api error", &apiError{code: "AccessDenied", msg: "denied"}, false},
		{"plain error", errors.New("timeout"), false},
		{"nil", nil, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Fatalf("isNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
