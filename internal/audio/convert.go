package audio

import (
	"encoding/binary"
	"fmt"
)

// Format identifies a transport-native audio representation.
type Format int

const (
	// PCM24k is the engine's canonical format: 16-bit little-endian mono
	// linear PCM at 24kHz.
	PCM24k Format = iota
	// PCM48k is 16-bit little-endian mono linear PCM at 48kHz.
	PCM48k
	// Mulaw8k is G.711 u-law companded 8-bit mono at 8kHz (telephony).
	Mulaw8k
)

func (f Format) String() string {
	switch f {
	case PCM24k:
		return "pcm24k"
	case PCM48k:
		return "pcm48k"
	case Mulaw8k:
		return "mulaw8k"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// FormatError reports a malformed audio chunk. The offending chunk is
// dropped and the session continues.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "audio format: " + e.Reason }

// ToCanonical converts a transport-native byte chunk into canonical 24kHz
// samples. It is a pure function of its input: no buffering, no state.
func ToCanonical(b []byte, f Format) ([]int16, error) {
	switch f {
	case PCM24k:
		return bytesToPCM(b)
	case PCM48k:
		pcm, err := bytesToPCM(b)
		if err != nil {
			return nil, err
		}
		return downsample2(pcm), nil
	case Mulaw8k:
		pcm := make([]int16, len(b))
		for i, u := range b {
			pcm[i] = mulawDecode(u)
		}
		return upsample3(pcm), nil
	}
	return nil, &FormatError{Reason: "unknown source format " + f.String()}
}

// FromCanonical converts canonical 24kHz samples into the transport-native
// representation. Like ToCanonical it is pure and stateless.
func FromCanonical(pcm []int16, f Format) ([]byte, error) {
	switch f {
	case PCM24k:
		return pcmToBytes(pcm), nil
	case PCM48k:
		return pcmToBytes(upsample2(pcm)), nil
	case Mulaw8k:
		down := downsample3(pcm)
		out := make([]byte, len(down))
		for i, s := range down {
			out[i] = mulawEncode(s)
		}
		return out, nil
	}
	return nil, &FormatError{Reason: "unknown target format " + f.String()}
}

func bytesToPCM(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, &FormatError{Reason: fmt.Sprintf("odd byte count %d for 16-bit samples", len(b))}
	}
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return pcm, nil
}

func pcmToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

// downsample2 halves the sample rate by averaging adjacent pairs. A trailing
// odd sample is kept as-is.
func downsample2(in []int16) []int16 {
	out := make([]int16, 0, (len(in)+1)/2)
	for i := 0; i+1 < len(in); i += 2 {
		out = append(out, int16((int32(in[i])+int32(in[i+1]))/2))
	}
	if len(in)%2 == 1 {
		out = append(out, in[len(in)-1])
	}
	return out
}

func upsample2(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, 0, len(in)*2)
	for i := 0; i < len(in); i++ {
		out = append(out, in[i])
		if i+1 < len(in) {
			out = append(out, int16((int32(in[i])+int32(in[i+1]))/2))
		} else {
			out = append(out, in[i])
		}
	}
	return out
}

// downsample3 reduces 24k to 8k by averaging groups of three samples.
func downsample3(in []int16) []int16 {
	out := make([]int16, 0, len(in)/3+1)
	for i := 0; i+2 < len(in); i += 3 {
		out = append(out, int16((int32(in[i])+int32(in[i+1])+int32(in[i+2]))/3))
	}
	return out
}

// upsample3 expands 8k to 24k by linear interpolation between neighbors.
func upsample3(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, 0, len(in)*3)
	for i := 0; i < len(in); i++ {
		cur := int32(in[i])
		next := cur
		if i+1 < len(in) {
			next = int32(in[i+1])
		}
		out = append(out,
			int16(cur),
			int16(cur+(next-cur)/3),
			int16(cur+2*(next-cur)/3),
		)
	}
	return out
}

const mulawBias = 0x84

// mulawEncode compands one linear sample to G.711 u-law.
func mulawEncode(s int16) byte {
	sign := byte(0)
	v := int32(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > 32635 {
		v = 32635
	}
	v += mulawBias
	exp := 7
	for mask := int32(0x4000); exp > 0 && v&mask == 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> uint(exp+3)) & 0x0F)
	return ^(sign | byte(exp)<<4 | mant)
}

// mulawDecode expands one G.711 u-law byte to a linear sample.
func mulawDecode(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	v := ((int32(mant) << 3) + mulawBias) << uint(exp)
	v -= mulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}
