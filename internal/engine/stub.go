package engine

import (
	"fmt"
	"math"

	"github.com/duplex-voice-lab/internal/codec"
)

// Stub is a deterministic development generator used when the real model is
// not linked in. During the greeting (silent input) it emits a soft tone so
// the opening utterance is audible; in conversation it echoes the caller's
// codes back attenuated. Text tokens count up monotonically from the
// previous token, which keeps the feedback-threading property observable.
type Stub struct{}

type stubState struct {
	step   int
	closed bool
}

func (Stub) NewState() (Handle, error) {
	return &stubState{}, nil
}

func (Stub) Step(h Handle, in StepInput) (StepOutput, error) {
	st, ok := h.(*stubState)
	if !ok || st.closed {
		return StepOutput{}, fmt.Errorf("invalid generation handle")
	}
	st.step++

	var out codec.TokenSet
	silent := true
	for _, c := range in.AudioCodes.Codes {
		if c != 0 {
			silent = false
			break
		}
	}
	if silent {
		// ~220Hz-ish amplitude contour across the codebooks
		for i := range out.Codes {
			out.Codes[i] = int32(2000 * math.Sin(float64(st.step*len(out.Codes)+i)/4))
		}
	} else {
		for i, c := range in.AudioCodes.Codes {
			out.Codes[i] = c / 2
		}
	}
	return StepOutput{TextToken: in.PrevTextToken + 1, AudioCodes: out}, nil
}

func (Stub) Close(h Handle) {
	if st, ok := h.(*stubState); ok {
		st.closed = true
	}
}
