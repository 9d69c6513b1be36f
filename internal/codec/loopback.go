package codec

import "errors"

// Loopback is a trivial stand-in codec for development and tests: it splits
// a frame into NumCodebooks bands and stores each band's mean amplitude as
// the code, reconstructing a stepped approximation on decode. It exists so
// the pipeline can run end to end without the neural codec linked in; it is
// not a real compressor.
type Loopback struct {
	frameSize int
	steps     int
	closed    bool
}

// NewLoopback returns a Loopback codec for frames of frameSize samples.
func NewLoopback(frameSize int) *Loopback {
	return &Loopback{frameSize: frameSize}
}

var errLoopbackClosed = errors.New("loopback codec closed")

func (l *Loopback) Encode(pcm []int16) (TokenSet, error) {
	var ts TokenSet
	if l.closed {
		return ts, errLoopbackClosed
	}
	band := len(pcm) / NumCodebooks
	if band == 0 {
		band = 1
	}
	for i := 0; i < NumCodebooks; i++ {
		start := i * band
		if start >= len(pcm) {
			break
		}
		end := start + band
		if end > len(pcm) {
			end = len(pcm)
		}
		var sum int64
		for _, s := range pcm[start:end] {
			sum += int64(s)
		}
		ts.Codes[i] = int32(sum / int64(end-start))
	}
	l.steps++
	return ts, nil
}

func (l *Loopback) Decode(ts TokenSet) ([]int16, error) {
	if l.closed {
		return nil, errLoopbackClosed
	}
	pcm := make([]int16, l.frameSize)
	band := l.frameSize / NumCodebooks
	if band == 0 {
		band = 1
	}
	for i := 0; i < NumCodebooks; i++ {
		start := i * band
		if start >= len(pcm) {
			break
		}
		end := start + band
		if i == NumCodebooks-1 || end > len(pcm) {
			end = len(pcm)
		}
		for j := start; j < end; j++ {
			pcm[j] = int16(ts.Codes[i])
		}
	}
	l.steps++
	return pcm, nil
}

func (l *Loopback) Close() error {
	l.closed = true
	return nil
}

// Steps returns how many encode/decode calls the codec has served, a cheap
// proxy for streaming-context advancement in tests.
func (l *Loopback) Steps() int { return l.steps }
