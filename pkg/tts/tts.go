// Package tts provides text-to-speech synthesis for telephone audio.
//
// Synthesizers produce 8 kHz G.711 mu-law audio suitable for writing
// straight onto a carrier media stream. A synthesis is represented as a
// Stream of raw audio chunks that the caller pulls and frames; a stream
// may be cancelled at any point, which is how barge-in cuts the
// assistant off mid-sentence.
package tts

import (
	"context"
	"errors"
)

// ErrCancelled is returned by Stream.Next after the stream has been
// cancelled.
var ErrCancelled = errors.New("tts: synthesis cancelled")

// Stream is a pull-based stream of synthesized audio chunks.
type Stream interface {
	// Next returns the next chunk of mu-law audio. It blocks until a
	// chunk is available, the synthesis completes (io.EOF), or the
	// stream fails or is cancelled.
	Next() ([]byte, error)

	// Cancel stops the synthesis and releases its resources. It is
	// idempotent and safe to call concurrently with Next.
	Cancel()
}

// Synthesizer converts text into a stream of telephone audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Stream, error)
}

// SynthesizeFunc is a function that implements the Synthesizer interface.
type SynthesizeFunc func(ctx context.Context, text string) (Stream, error)

// Synthesize implements the Synthesizer interface.
func (f SynthesizeFunc) Synthesize(ctx context.Context, text string) (Stream, error) {
	return f(ctx, text)
}
