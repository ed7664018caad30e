// Package framing slices arbitrary-length synthesized audio chunks into
// fixed-size carrier frames.
//
// The telephony carrier transports 8kHz mono G.711 mu-law audio in frames of
// exactly FrameSize bytes (20ms per frame, one byte per sample). Frames of
// any other size are rejected or garbled by the carrier, so the fixed size is
// a hard invariant of everything this package emits.
package framing

// FrameSize is the carrier wire unit: 160 bytes of 8kHz mu-law audio, 20ms.
const FrameSize = 160

// ULawSilence is the mu-law encoding of a zero-amplitude sample.
const ULawSilence = 0xFF

// FrameBuffer accumulates synthesized audio bytes and cuts them into
// fixed-size frames. The final partial frame, if any, is padded with
// mu-law silence by Flush.
//
// A FrameBuffer is owned by a single session goroutine and is not safe for
// concurrent use.
type FrameBuffer struct {
	frameSize int
	buf       []byte
}

// NewFrameBuffer creates a FrameBuffer emitting frames of the given size.
// A size of 0 or less selects FrameSize.
func NewFrameBuffer(frameSize int) *FrameBuffer {
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	return &FrameBuffer{frameSize: frameSize}
}

// Append adds a chunk of synthesized audio to the buffer.
func (fb *FrameBuffer) Append(chunk []byte) {
	fb.buf = append(fb.buf, chunk...)
}

// Drain returns all complete frames accumulated so far and retains the
// incomplete remainder. Every returned frame is exactly the configured
// frame size. Returns nil if no complete frame is available.
func (fb *FrameBuffer) Drain() [][]byte {
	n := len(fb.buf) / fb.frameSize
	if n == 0 {
		return nil
	}
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frame := make([]byte, fb.frameSize)
		copy(frame, fb.buf[i*fb.frameSize:(i+1)*fb.frameSize])
		frames = append(frames, frame)
	}
	rem := len(fb.buf) % fb.frameSize
	fb.buf = append(fb.buf[:0], fb.buf[len(fb.buf)-rem:]...)
	return frames
}

// Flush pads a non-empty remainder with mu-law silence and returns it as a
// final full-size frame. Returns nil if the buffer holds no remainder.
// Call Drain first; Flush only looks at what Drain left behind.
func (fb *FrameBuffer) Flush() []byte {
	if len(fb.buf) == 0 {
		return nil
	}
	frame := make([]byte, fb.frameSize)
	n := copy(frame, fb.buf)
	for i := n; i < fb.frameSize; i++ {
		frame[i] = ULawSilence
	}
	fb.buf = fb.buf[:0]
	return frame
}

// Len returns the number of buffered bytes not yet emitted.
func (fb *FrameBuffer) Len() int {
	return len(fb.buf)
}

// Reset discards all buffered audio. Used when a response is cancelled and
// its remaining audio must not reach the carrier.
func (fb *FrameBuffer) Reset() {
	fb.buf = fb.buf[:0]
}
