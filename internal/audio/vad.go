package audio

import "math"

// Boundary reports a state transition observed by the Detector.
type Boundary int

const (
	BoundaryNone Boundary = iota
	// BoundarySpeechStart fires once when the gate opens.
	BoundarySpeechStart
	// BoundarySpeechEnd fires once when the gate closes; callers use it as
	// the utterance boundary for segment cuts and memory retrieval.
	BoundarySpeechEnd
)

// Detector is an energy-based voice activity gate with hysteresis: entering
// speaking requires speechFrames consecutive loud sub-frames, leaving it
// requires silenceFrames consecutive quiet ones. A lone loud burst never
// opens the gate and a breath pause never closes it.
//
// The detector only consumes RMS energy, so it can be swapped for a
// model-based implementation without changing the call sites.
type Detector struct {
	threshold     float64
	speechFrames  int
	silenceFrames int

	active  bool
	loud    int
	quiet   int
	lastRMS float64
}

// NewDetector builds a Detector. threshold is normalized RMS in [0,1];
// speechFrames/silenceFrames are the debounce counts in sub-frames.
func NewDetector(threshold float64, speechFrames, silenceFrames int) *Detector {
	if speechFrames < 1 {
		speechFrames = 1
	}
	if silenceFrames < 1 {
		silenceFrames = 1
	}
	return &Detector{threshold: threshold, speechFrames: speechFrames, silenceFrames: silenceFrames}
}

// Push feeds one sub-frame and returns any boundary crossed.
func (d *Detector) Push(pcm []int16) Boundary {
	d.lastRMS = RMS(pcm)
	loud := d.lastRMS >= d.threshold

	if d.active {
		if loud {
			d.quiet = 0
			return BoundaryNone
		}
		d.quiet++
		if d.quiet >= d.silenceFrames {
			d.active = false
			d.quiet = 0
			return BoundarySpeechEnd
		}
		return BoundaryNone
	}

	if !loud {
		d.loud = 0
		return BoundaryNone
	}
	d.loud++
	if d.loud >= d.speechFrames {
		d.active = true
		d.loud = 0
		return BoundarySpeechStart
	}
	return BoundaryNone
}

// Active reports whether the gate is currently open.
func (d *Detector) Active() bool { return d.active }

// LastRMS returns the energy of the most recent sub-frame, for downstream
// amplitude display.
func (d *Detector) LastRMS() float64 { return d.lastRMS }

// Reset clears all gate state.
func (d *Detector) Reset() {
	d.active = false
	d.loud = 0
	d.quiet = 0
	d.lastRMS = 0
}

// RMS computes root-mean-square energy of a PCM chunk normalized to [0,1].
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range pcm {
		v := float64(s) / 32768.0
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(pcm)))
}
