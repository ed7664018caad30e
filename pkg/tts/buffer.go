package tts

import (
	"io"
	"sync"
)

// bufferChunkSize is how much audio a buffered stream hands out per
// Next call: 3200 mu-law bytes is 400 ms at 8 kHz, small enough that a
// cancel mid-playback still lands quickly.
const bufferChunkSize = 3200

// BufferStream is a Stream over audio that is already fully in memory.
type BufferStream struct {
	mu        sync.Mutex
	data      []byte
	cancelled bool
}

var _ Stream = (*BufferStream)(nil)

// NewBufferStream creates a stream that replays the given mu-law audio.
func NewBufferStream(data []byte) *BufferStream {
	return &BufferStream{data: data}
}

// Next returns the next chunk of the buffered audio.
func (b *BufferStream) Next() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return nil, ErrCancelled
	}
	if len(b.data) == 0 {
		return nil, io.EOF
	}
	n := min(bufferChunkSize, len(b.data))
	chunk := b.data[:n]
	b.data = b.data[n:]
	return chunk, nil
}

// Cancel discards the remaining audio.
func (b *BufferStream) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = true
	b.data = nil
}
