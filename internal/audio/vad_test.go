package audio

import "testing"

func loud(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = 8000
	}
	return pcm
}

func quiet(n int) []int16 { return make([]int16, n) }

// TestSingleBurstDoesNotOpenGate models the debounce requirement: one loud
// sub-frame surrounded by silence must not flip the detector to speaking.
func TestSingleBurstDoesNotOpenGate(t *testing.T) {
	d := NewDetector(0.05, 3, 5)

	d.Push(quiet(160))
	if b := d.Push(loud(160)); b != BoundaryNone {
		t.Fatalf("single burst produced boundary %v", b)
	}
	d.Push(quiet(160))
	if d.Active() {
		t.Fatalf("gate opened on a single loud burst")
	}
}

func TestConsecutiveLoudFramesOpenGate(t *testing.T) {
	d := NewDetector(0.05, 3, 5)

	var got Boundary
	for i := 0; i < 3; i++ {
		got = d.Push(loud(160))
	}
	if got != BoundarySpeechStart {
		t.Fatalf("want BoundarySpeechStart on third loud sub-frame, got %v", got)
	}
	if !d.Active() {
		t.Fatalf("gate should be open")
	}
}

// TestBreathPauseDoesNotCloseGate checks the silence-side hysteresis: fewer
// than the configured quiet sub-frames must not end the utterance.
func TestBreathPauseDoesNotCloseGate(t *testing.T) {
	d := NewDetector(0.05, 1, 5)
	d.Push(loud(160))
	if !d.Active() {
		t.Fatalf("gate should open")
	}
	for i := 0; i < 4; i++ {
		if b := d.Push(quiet(160)); b != BoundaryNone {
			t.Fatalf("premature boundary %v at quiet frame %d", b, i)
		}
	}
	// a loud frame resets the quiet counter
	d.Push(loud(160))
	for i := 0; i < 4; i++ {
		d.Push(quiet(160))
	}
	if !d.Active() {
		t.Fatalf("gate closed before silence debounce elapsed")
	}
	if b := d.Push(quiet(160)); b != BoundarySpeechEnd {
		t.Fatalf("want BoundarySpeechEnd after full silence run, got %v", b)
	}
	if d.Active() {
		t.Fatalf("gate should be closed")
	}
}

func TestRMSRange(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("empty RMS: want=0 got=%f", got)
	}
	if got := RMS(quiet(100)); got != 0 {
		t.Fatalf("silent RMS: want=0 got=%f", got)
	}
	full := make([]int16, 100)
	for i := range full {
		full[i] = -32768
	}
	if got := RMS(full); got < 0.99 || got > 1.01 {
		t.Fatalf("full-scale RMS out of range: %f", got)
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(0.05, 1, 1)
	d.Push(loud(160))
	d.Reset()
	if d.Active() || d.LastRMS() != 0 {
		t.Fatalf("reset did not clear state")
	}
}
