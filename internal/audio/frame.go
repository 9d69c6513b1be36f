package audio

// Frame is one fixed-duration unit of canonical PCM, the unit of one
// pipeline step. Frames produced by a Scheduler are always exactly the
// configured length; partial audio stays buffered.
type Frame []int16

// Scheduler accumulates converted PCM into complete frames. It owns the
// per-session accumulation buffer; it is not safe for concurrent use (one
// frame loop per session is the intended caller).
type Scheduler struct {
	size int
	buf  []int16
}

// NewScheduler returns a Scheduler emitting frames of size samples.
func NewScheduler(size int) *Scheduler {
	return &Scheduler{size: size, buf: make([]int16, 0, size*2)}
}

// Push appends samples and returns zero or more complete frames in arrival
// order. Any sub-frame remainder is retained for the next push.
func (s *Scheduler) Push(pcm []int16) []Frame {
	s.buf = append(s.buf, pcm...)
	var frames []Frame
	for len(s.buf) >= s.size {
		f := make(Frame, s.size)
		copy(f, s.buf[:s.size])
		frames = append(frames, f)
		s.buf = s.buf[:copy(s.buf, s.buf[s.size:])]
	}
	return frames
}

// Pending returns the number of buffered samples not yet forming a frame.
func (s *Scheduler) Pending() int { return len(s.buf) }

// Silence returns an all-zero frame of the given size, used for greeting
// synthesis where the model is driven with no real input.
func Silence(size int) Frame { return make(Frame, size) }
