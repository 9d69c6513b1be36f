package engine

import (
	"fmt"
	"testing"

	"github.com/duplex-voice-lab/internal/audio"
	"github.com/duplex-voice-lab/internal/codec"
)

const frameSize = 1920

// recordingGen records every StepInput it sees so tests can assert on the
// token threading between steps.
type recordingGen struct {
	inputs  []StepInput
	next    int32
	failAt  int
	closed  int
	created int
}

func (g *recordingGen) NewState() (Handle, error) {
	g.created++
	return g, nil
}

func (g *recordingGen) Step(h Handle, in StepInput) (StepOutput, error) {
	g.inputs = append(g.inputs, in)
	if g.failAt > 0 && len(g.inputs) >= g.failAt {
		return StepOutput{}, fmt.Errorf("model fault")
	}
	g.next += 7 // arbitrary stride so tokens are distinguishable
	return StepOutput{TextToken: g.next, AudioCodes: in.AudioCodes}, nil
}

func (g *recordingGen) Close(h Handle) { g.closed++ }

func newTestEngine(g Generator) *Engine {
	return New(g, codec.NewAdapter(codec.NewLoopback(frameSize), frameSize), "test-session", frameSize)
}

// TestPrevTokenThreading is the critical regression test: the previous text
// token passed into step N+1 must be exactly the token returned by step N.
func TestPrevTokenThreading(t *testing.T) {
	g := &recordingGen{}
	e := newTestEngine(g)
	if _, err := e.Start(2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := e.Step(audio.Silence(frameSize), nil); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if len(g.inputs) != 7 { // 2 greeting + 5 conversing
		t.Fatalf("step count: want=7 got=%d", len(g.inputs))
	}
	prev := int32(0)
	for i, in := range g.inputs {
		if in.PrevTextToken != prev {
			t.Fatalf("step %d prev token: want=%d got=%d", i, prev, in.PrevTextToken)
		}
		prev += 7
	}
}

func TestOneInOneOut(t *testing.T) {
	e := newTestEngine(&recordingGen{})
	if _, err := e.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 10; i++ {
		out, err := e.Step(audio.Silence(frameSize), nil)
		if err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if len(out) != frameSize {
			t.Fatalf("step %d output length: want=%d got=%d", i, frameSize, len(out))
		}
	}
}

// TestGreetingFromSilence starts a session with zero real audio input and
// checks that the greeting produces non-empty decoded audio before any user
// frame is processed.
func TestGreetingFromSilence(t *testing.T) {
	e := newTestEngine(Stub{})
	greeting, err := e.Start(25)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(greeting) != 25 {
		t.Fatalf("greeting frames: want=25 got=%d", len(greeting))
	}
	var energy float64
	for _, f := range greeting {
		energy += audio.RMS(f)
	}
	if energy == 0 {
		t.Fatalf("greeting audio is silent")
	}
	if e.Phase() != PhaseConversing {
		t.Fatalf("phase after greeting: want=conversing got=%s", e.Phase())
	}
}

func TestInjectedContextPassedThrough(t *testing.T) {
	g := &recordingGen{}
	e := newTestEngine(g)
	if _, err := e.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Step(audio.Silence(frameSize), []string{"likes jazz"}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if _, err := e.Step(audio.Silence(frameSize), nil); err != nil {
		t.Fatalf("Step: %v", err)
	}
	last := g.inputs[len(g.inputs)-1]
	withCtx := g.inputs[len(g.inputs)-2]
	if len(withCtx.Context) != 1 || withCtx.Context[0] != "likes jazz" {
		t.Fatalf("context not attached to its step: %v", withCtx.Context)
	}
	if last.Context != nil {
		t.Fatalf("context leaked into a later step: %v", last.Context)
	}
}

func TestGenerationFailureTerminates(t *testing.T) {
	g := &recordingGen{failAt: 3}
	e := newTestEngine(g)
	if _, err := e.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Step(audio.Silence(frameSize), nil); err != nil {
		t.Fatalf("Step: %v", err)
	}
	_, err := e.Step(audio.Silence(frameSize), nil)
	if err == nil {
		t.Fatalf("expected generation failure")
	}
	if e.Phase() != PhaseTerminated {
		t.Fatalf("phase after failure: want=terminated got=%s", e.Phase())
	}
	if g.closed != 1 {
		t.Fatalf("generation state not released: closed=%d", g.closed)
	}
	// further steps must refuse without touching the generator
	steps := len(g.inputs)
	if _, err := e.Step(audio.Silence(frameSize), nil); err == nil {
		t.Fatalf("terminated engine accepted a step")
	}
	if len(g.inputs) != steps {
		t.Fatalf("terminated engine still called the generator")
	}
}

func TestCloseReleasesBothStatesOnce(t *testing.T) {
	g := &recordingGen{}
	lb := codec.NewLoopback(frameSize)
	e := New(g, codec.NewAdapter(lb, frameSize), "s", frameSize)
	if _, err := e.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Close()
	e.Close()
	if g.closed != 1 {
		t.Fatalf("generator close count: want=1 got=%d", g.closed)
	}
	if e.Phase() != PhaseTerminated {
		t.Fatalf("phase: want=terminated got=%s", e.Phase())
	}
}

// TestPhaseReadableAcrossGoroutines reads the phase from another goroutine
// while the owner drives the full lifecycle; the race detector fails this
// if phase transitions are not synchronized.
func TestPhaseReadableAcrossGoroutines(t *testing.T) {
	e := newTestEngine(&recordingGen{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				_ = e.Phase()
				_ = e.Phase().String()
			}
		}
	}()
	if _, err := e.Start(3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := e.Step(audio.Silence(frameSize), nil); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	e.Close()
	close(stop)
	<-done
	if got := e.Phase(); got != PhaseTerminated {
		t.Fatalf("phase after close: want=%s got=%s", PhaseTerminated, got)
	}
}

func TestStepBeforeStart(t *testing.T) {
	e := newTestEngine(&recordingGen{})
	if _, err := e.Step(audio.Silence(frameSize), nil); err == nil {
		t.Fatalf("idle engine accepted a step")
	}
}
