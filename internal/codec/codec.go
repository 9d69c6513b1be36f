// Package codec wraps the external streaming neural codec behind a
// session-owned adapter. The codec turns fixed-length PCM frames into
// parallel codebook token streams and back; the adapter enforces the frame
// geometry and the fatal-on-error contract around it.
package codec

import (
	"fmt"

	"github.com/duplex-voice-lab/internal/audio"
)

// NumCodebooks is the fixed number of parallel codebook streams per frame.
// Codebook order is part of the wire contract on both encode and decode:
// reordering silently corrupts audio without raising an error, so the codes
// live in a fixed-size array and are never re-sorted.
const NumCodebooks = 8

// TokenSet is the codec's discrete representation of one frame: one code
// per codebook, in codebook order.
type TokenSet struct {
	Codes [NumCodebooks]int32
}

// Codec is the external neural codec contract. Implementations carry
// streaming context across calls and are keyed to one session.
type Codec interface {
	Encode(pcm []int16) (TokenSet, error)
	Decode(ts TokenSet) ([]int16, error)
	Close() error
}

// CodecError is session-fatal: the streaming codec state is assumed
// corrupted and compounds across frames, so there is no retry.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string { return fmt.Sprintf("codec %s: %v", e.Op, e.Err) }
func (e *CodecError) Unwrap() error { return e.Err }

// Adapter owns exactly one codec instance for one session. It must not be
// invoked concurrently; the underlying codec state is not reentrant. After
// the first error the adapter is poisoned and refuses further calls.
type Adapter struct {
	c         Codec
	frameSize int
	poisoned  bool
}

// NewAdapter wraps c for frames of frameSize samples.
func NewAdapter(c Codec, frameSize int) *Adapter {
	return &Adapter{c: c, frameSize: frameSize}
}

// Encode converts one complete frame to its token representation.
func (a *Adapter) Encode(f audio.Frame) (TokenSet, error) {
	if a.poisoned {
		return TokenSet{}, &CodecError{Op: "encode", Err: fmt.Errorf("adapter poisoned by earlier failure")}
	}
	if len(f) != a.frameSize {
		a.poisoned = true
		return TokenSet{}, &CodecError{Op: "encode", Err: fmt.Errorf("frame length %d, want %d", len(f), a.frameSize)}
	}
	ts, err := a.c.Encode(f)
	if err != nil {
		a.poisoned = true
		return TokenSet{}, &CodecError{Op: "encode", Err: err}
	}
	return ts, nil
}

// Decode converts one token set back to a complete frame.
func (a *Adapter) Decode(ts TokenSet) (audio.Frame, error) {
	if a.poisoned {
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("adapter poisoned by earlier failure")}
	}
	pcm, err := a.c.Decode(ts)
	if err != nil {
		a.poisoned = true
		return nil, &CodecError{Op: "decode", Err: err}
	}
	if len(pcm) != a.frameSize {
		a.poisoned = true
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("decoded length %d, want %d", len(pcm), a.frameSize)}
	}
	return pcm, nil
}

// Poisoned reports whether a previous call failed.
func (a *Adapter) Poisoned() bool { return a.poisoned }

// Close releases the underlying codec state.
func (a *Adapter) Close() error { return a.c.Close() }
