package framing

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFrameBuffer_ExactFrames(t *testing.T) {
	fb := NewFrameBuffer(4)
	fb.Append([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	frames := fb.Drain()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) {
		t.Errorf("frame 0 = %v", frames[0])
	}
	if !bytes.Equal(frames[1], []byte{5, 6, 7, 8}) {
		t.Errorf("frame 1 = %v", frames[1])
	}
	if f := fb.Flush(); f != nil {
		t.Errorf("expected no flush frame, got %v", f)
	}
}

func TestFrameBuffer_Remainder(t *testing.T) {
	fb := NewFrameBuffer(4)
	fb.Append([]byte{1, 2, 3, 4, 5, 6})

	frames := fb.Drain()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if fb.Len() != 2 {
		t.Errorf("expected 2 buffered bytes, got %d", fb.Len())
	}

	f := fb.Flush()
	if !bytes.Equal(f, []byte{5, 6, ULawSilence, ULawSilence}) {
		t.Errorf("flush frame = %v", f)
	}
	if fb.Len() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", fb.Len())
	}
}

func TestFrameBuffer_SmallAppendsAccumulate(t *testing.T) {
	fb := NewFrameBuffer(4)
	fb.Append([]byte{1})
	if frames := fb.Drain(); frames != nil {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	fb.Append([]byte{2, 3})
	fb.Append([]byte{4, 5})
	frames := fb.Drain()
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) {
		t.Fatalf("frames = %v", frames)
	}
}

func TestFrameBuffer_Reset(t *testing.T) {
	fb := NewFrameBuffer(4)
	fb.Append([]byte{1, 2, 3})
	fb.Reset()
	if fb.Len() != 0 {
		t.Errorf("expected empty after reset, got %d", fb.Len())
	}
	if f := fb.Flush(); f != nil {
		t.Errorf("expected nil flush after reset, got %v", f)
	}
}

// Round-trip law: for any sequence of chunk sizes summing to S bytes,
// Drain+Flush emit ceil(S/frameSize) frames of exactly frameSize bytes each,
// and the unpadded concatenation reproduces the input.
func TestFrameBuffer_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		const frameSize = 160
		fb := NewFrameBuffer(frameSize)

		var input []byte
		var frames [][]byte
		nChunks := rng.Intn(20)
		for i := 0; i < nChunks; i++ {
			chunk := make([]byte, rng.Intn(500))
			for j := range chunk {
				chunk[j] = byte(rng.Intn(255)) // never 0xFF, so padding is distinguishable
			}
			input = append(input, chunk...)
			fb.Append(chunk)
			frames = append(frames, fb.Drain()...)
		}
		if f := fb.Flush(); f != nil {
			frames = append(frames, f)
		}

		want := (len(input) + frameSize - 1) / frameSize
		if len(frames) != want {
			t.Fatalf("trial %d: %d bytes -> %d frames, want %d", trial, len(input), len(frames), want)
		}
		var out []byte
		for _, f := range frames {
			if len(f) != frameSize {
				t.Fatalf("trial %d: frame size %d", trial, len(f))
			}
			out = append(out, f...)
		}
		// Strip silence padding from the tail.
		out = out[:len(input)]
		if !bytes.Equal(out, input) {
			t.Fatalf("trial %d: round trip mismatch", trial)
		}
	}
}
