package transport

import (
	"encoding/binary"

	"github.com/hraban/opus"
)

const opusSampleRate = 48000

// opusStream owns the stateful libopus decoder for one connection. Opus
// decode carries history across packets, so the decoder lives with the
// transport leg and never with the stateless format converter.
type opusStream struct {
	dec *opus.Decoder
	pcm []int16
}

func newOpusStream() (*opusStream, error) {
	dec, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		return nil, err
	}
	// 120ms is the largest frame opus allows
	return &opusStream{dec: dec, pcm: make([]int16, opusSampleRate*120/1000)}, nil
}

// decode expands one opus packet to little-endian 48k PCM bytes.
func (s *opusStream) decode(pkt []byte) ([]byte, error) {
	n, err := s.dec.Decode(pkt, s.pcm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s.pcm[i]))
	}
	return out, nil
}
