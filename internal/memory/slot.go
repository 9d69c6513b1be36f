package memory

import "sync"

// InjectedContext is zero-to-three approved memory texts bound to exactly
// one upcoming generation step. Once taken it is gone, whether or not the
// model made use of it.
type InjectedContext struct {
	Texts []string
}

// Slot is a single-value "latest available" mailbox between the background
// retrieval task and the frame loop. Publish replaces any unconsumed value;
// Take never blocks. The frame loop polls it once per frame, so slow
// retrieval can never stall audio.
type Slot struct {
	mu  sync.Mutex
	ctx *InjectedContext
}

// Publish stores ctx as the latest value, discarding any unconsumed one.
func (s *Slot) Publish(ctx *InjectedContext) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Take removes and returns the pending value, or nil when none is ready.
func (s *Slot) Take() *InjectedContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.ctx
	s.ctx = nil
	return ctx
}

// Clear drops any pending value, used on session teardown so a retrieval
// finishing after close cannot be applied.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.ctx = nil
	s.mu.Unlock()
}
