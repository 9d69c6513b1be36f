// Package engine drives the external generative speech model through a
// per-session state machine: silence-driven greeting synthesis, then a
// full-duplex conversing loop of exactly one output frame per input frame.
package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/duplex-voice-lab/internal/audio"
	"github.com/duplex-voice-lab/internal/codec"
	"github.com/duplex-voice-lab/internal/logging"
)

// Handle is the opaque per-session generation state owned by the external
// model. It is not cloneable and must never be shared across sessions.
type Handle interface{}

// StepInput is one generation step's input. PrevTextToken must be the text
// token the model itself returned on the previous step; Context carries
// injected memory texts and is empty in the normal case.
type StepInput struct {
	PrevTextToken int32
	AudioCodes    codec.TokenSet
	Context       []string
}

// StepOutput is one generation step's result.
type StepOutput struct {
	TextToken  int32
	AudioCodes codec.TokenSet
}

// Generator is the external generative model contract.
type Generator interface {
	NewState() (Handle, error)
	Step(h Handle, in StepInput) (StepOutput, error)
	Close(h Handle)
}

// GenerationError is session-fatal.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "generation: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

// Phase is the engine's lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGreeting
	PhaseConversing
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGreeting:
		return "greeting"
	case PhaseConversing:
		return "conversing"
	case PhaseTerminated:
		return "terminated"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Engine couples one generation handle with one codec adapter. Both are
// released together through Close; dropping one without the other would
// split a single streaming contract, so no path exists to do that.
//
// The engine threads the model's own previous text token into each step
// internally and exposes no way to override it. Substituting a forced or
// scripted token breaks the semantic alignment the model was trained with
// and degrades output silently, so the feedback loop stays private.
type Engine struct {
	gen     Generator
	adapter *codec.Adapter

	sessionID string
	frameSize int

	handle   Handle
	prevText int32
	cause    error

	// phase is read concurrently (status surfaces, logging) while the
	// owning goroutine advances it, so it is atomic.
	phase atomic.Int32
}

// New returns an idle engine for one session. No generation state is
// allocated until Start.
func New(gen Generator, adapter *codec.Adapter, sessionID string, frameSize int) *Engine {
	return &Engine{gen: gen, adapter: adapter, sessionID: sessionID, frameSize: frameSize}
}

// Phase returns the current lifecycle state. Safe from any goroutine.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

func (e *Engine) setPhase(p Phase) { e.phase.Store(int32(p)) }

// Cause returns the error that terminated the engine, if any.
func (e *Engine) Cause() error { return e.cause }

// Start allocates generation state and synthesizes the opening utterance by
// feeding greetingFrames of encoded silence through the model with no real
// audio input. It returns the decoded greeting frames and moves the engine
// to conversing.
func (e *Engine) Start(greetingFrames int) ([]audio.Frame, error) {
	if p := e.Phase(); p != PhaseIdle {
		return nil, &GenerationError{Err: fmt.Errorf("start in phase %s", p)}
	}
	h, err := e.gen.NewState()
	if err != nil {
		e.terminate(&GenerationError{Err: err})
		return nil, e.cause
	}
	e.handle = h
	e.setPhase(PhaseGreeting)
	logging.Debugw("engine: greeting synthesis", logging.SessionFields(e.sessionID, PhaseGreeting.String())...)

	silence := audio.Silence(e.frameSize)
	out := make([]audio.Frame, 0, greetingFrames)
	for i := 0; i < greetingFrames; i++ {
		frame, err := e.step(silence, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, frame)
	}
	e.setPhase(PhaseConversing)
	logging.Infow("engine: conversing", logging.SessionFields(e.sessionID, PhaseConversing.String())...)
	return out, nil
}

// Step processes exactly one input frame and returns exactly one output
// frame. injected, when non-nil, conditions only this step.
func (e *Engine) Step(in audio.Frame, injected []string) (audio.Frame, error) {
	if p := e.Phase(); p != PhaseConversing {
		return nil, &GenerationError{Err: fmt.Errorf("step in phase %s", p)}
	}
	return e.step(in, injected)
}

func (e *Engine) step(in audio.Frame, injected []string) (audio.Frame, error) {
	codes, err := e.adapter.Encode(in)
	if err != nil {
		e.terminate(err)
		return nil, err
	}
	out, err := e.gen.Step(e.handle, StepInput{
		PrevTextToken: e.prevText,
		AudioCodes:    codes,
		Context:       injected,
	})
	if err != nil {
		gerr := &GenerationError{Err: err}
		e.terminate(gerr)
		return nil, gerr
	}
	// Only the model's own emitted token feeds the next step.
	e.prevText = out.TextToken
	frame, err := e.adapter.Decode(out.AudioCodes)
	if err != nil {
		e.terminate(err)
		return nil, err
	}
	return frame, nil
}

// Close releases generation and codec state together. It is idempotent and
// safe to call from any phase.
func (e *Engine) Close() {
	if e.Phase() == PhaseTerminated {
		return
	}
	e.terminate(nil)
}

// terminate is the single teardown path: generation handle and codec state
// are invalidated as one unit.
func (e *Engine) terminate(cause error) {
	if e.Phase() == PhaseTerminated {
		return
	}
	if cause != nil && e.cause == nil {
		e.cause = cause
		logging.Errorw("engine: terminated", "session.id", e.sessionID, "err", cause)
	}
	if e.handle != nil {
		e.gen.Close(e.handle)
		e.handle = nil
	}
	_ = e.adapter.Close()
	e.setPhase(PhaseTerminated)
}
