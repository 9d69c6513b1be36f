package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplex-voice-lab/internal/audio"
	"github.com/duplex-voice-lab/internal/codec"
	"github.com/duplex-voice-lab/internal/config"
	"github.com/duplex-voice-lab/internal/engine"
	"github.com/duplex-voice-lab/internal/memory"
	"github.com/duplex-voice-lab/internal/wake"
)

func testConfig() config.Config {
	return config.Config{
		SampleRate:       24000,
		FrameDuration:    80 * time.Millisecond,
		SubFrame:         480,
		VADThreshold:     0.05,
		VADSpeechFrames:  2,
		VADSilenceFrames: 3,
		GreetingFrames:   2,
		MaxInjected:      3,
		InboundQueue:     256,
	}
}

// countingGen counts steps and threads tokens like a real model.
type countingGen struct {
	mu    sync.Mutex
	steps int
	next  int32
}

func (g *countingGen) NewState() (engine.Handle, error) { return g, nil }

func (g *countingGen) Step(h engine.Handle, in engine.StepInput) (engine.StepOutput, error) {
	g.mu.Lock()
	g.steps++
	g.next++
	g.mu.Unlock()
	return engine.StepOutput{TextToken: g.next, AudioCodes: in.AudioCodes}, nil
}

func (g *countingGen) Close(h engine.Handle) {}

func (g *countingGen) stepCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.steps
}

type stubRecognizer struct {
	mu    sync.Mutex
	text  string
	conf  float64
	calls int
}

func (r *stubRecognizer) Transcribe(ctx context.Context, pcm []int16, correlationID string) (string, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.text, r.conf, nil
}

func frameBytes(amplitude int16, cfg config.Config) []byte {
	pcm := make([]int16, cfg.FrameSamples())
	for i := range pcm {
		pcm[i] = amplitude
	}
	b, _ := audio.FromCanonical(pcm, audio.PCM24k)
	return b
}

func collect(t *testing.T, ch <-chan []byte, n int) [][]byte {
	t.Helper()
	out := make([][]byte, 0, n)
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case b, ok := <-ch:
			if !ok {
				t.Fatalf("output closed after %d of %d frames", len(out), n)
			}
			out = append(out, b)
		case <-deadline:
			t.Fatalf("timed out after %d of %d frames", len(out), n)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestOneOutputFramePerInputFrame(t *testing.T) {
	cfg := testConfig()
	gen := &countingGen{}
	s := New(Options{
		Config:       cfg,
		Format:       audio.PCM24k,
		Codec:        codec.NewLoopback(cfg.FrameSamples()),
		Generator:    gen,
		AutoActivate: true,
	}, nil)
	defer s.Close()

	// greeting first
	greeting := collect(t, s.Output(), cfg.GreetingFrames)
	require.Len(t, greeting, cfg.GreetingFrames)

	const n = 5
	for i := 0; i < n; i++ {
		s.Push(frameBytes(0, cfg))
	}
	out := collect(t, s.Output(), n)
	assert.Len(t, out, n, "conversing is strictly one-in-one-out")
	waitFor(t, func() bool { return gen.stepCount() == cfg.GreetingFrames+n })
}

func TestWakeWordGatesActivation(t *testing.T) {
	cfg := testConfig()
	rec := &stubRecognizer{text: "hey computer lights on", conf: 0.9}
	s := New(Options{
		Config:     cfg,
		Format:     audio.PCM24k,
		Codec:      codec.NewLoopback(cfg.FrameSamples()),
		Generator:  &countingGen{},
		Recognizer: rec,
		WakeWords:  newWakeSet(t),
	}, nil)
	defer s.Close()

	// speech then silence produces an utterance boundary while idle
	for i := 0; i < 3; i++ {
		s.Push(frameBytes(8000, cfg))
	}
	for i := 0; i < 3; i++ {
		s.Push(frameBytes(0, cfg))
	}

	// activation emits greeting audio and a wake event naming the word
	greeting := collect(t, s.Output(), cfg.GreetingFrames)
	require.Len(t, greeting, cfg.GreetingFrames)

	var wakeWord string
	deadline := time.After(3 * time.Second)
	for wakeWord == "" {
		select {
		case e := <-s.Events():
			if e.Kind == EventWake {
				wakeWord = e.Word
			}
		case <-deadline:
			t.Fatalf("no wake event")
		}
	}
	assert.Equal(t, "computer", wakeWord)
}

func TestIdleSessionEmitsNoAudio(t *testing.T) {
	cfg := testConfig()
	rec := &stubRecognizer{text: "nothing here", conf: 0.9}
	s := New(Options{
		Config:     cfg,
		Format:     audio.PCM24k,
		Codec:      codec.NewLoopback(cfg.FrameSamples()),
		Generator:  &countingGen{},
		Recognizer: rec,
		WakeWords:  newWakeSet(t),
	}, nil)
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.Push(frameBytes(8000, cfg))
	}
	for i := 0; i < 3; i++ {
		s.Push(frameBytes(0, cfg))
	}
	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.calls >= 1
	})
	select {
	case b := <-s.Output():
		t.Fatalf("idle session emitted %d bytes", len(b))
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, engine.PhaseIdle, s.Phase())
}

func TestMemoryInjectionReachesNextStep(t *testing.T) {
	cfg := testConfig()
	store := memory.NewMemStore()
	require.NoError(t, store.Store(context.Background(), "user prefers jazz", []float32{1, 0, 0}, nil))
	retriever := memory.NewRetriever(store, constEmbedder{}, approveAll{}, memory.DefaultWeights(), 15, 3)

	s := New(Options{
		Config:       cfg,
		Format:       audio.PCM24k,
		Codec:        codec.NewLoopback(cfg.FrameSamples()),
		Generator:    &countingGen{},
		Retriever:    retriever,
		AutoActivate: true,
	}, nil)
	defer s.Close()

	collect(t, s.Output(), cfg.GreetingFrames)

	s.NoteTranscript("what should I listen to")

	// keep stepping; one upcoming step must carry the injected memory
	injected := make(chan Event, 1)
	go func() {
		for e := range s.Events() {
			if e.Kind == EventMemoryInjected {
				select {
				case injected <- e:
				default:
				}
				return
			}
		}
	}()
	deadline := time.After(3 * time.Second)
	for {
		s.Push(frameBytes(0, cfg))
		select {
		case e := <-injected:
			require.Len(t, e.Texts, 1)
			assert.Equal(t, "user prefers jazz", e.Texts[0])
			return
		case <-deadline:
			t.Fatalf("memory never injected")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCloseStopsGeneration(t *testing.T) {
	cfg := testConfig()
	gen := &countingGen{}
	s := New(Options{
		Config:       cfg,
		Format:       audio.PCM24k,
		Codec:        codec.NewLoopback(cfg.FrameSamples()),
		Generator:    gen,
		AutoActivate: true,
	}, nil)

	collect(t, s.Output(), cfg.GreetingFrames)
	s.Push(frameBytes(0, cfg))
	collect(t, s.Output(), 1)

	s.Close()
	s.Close() // idempotent
	after := gen.stepCount()

	s.Push(frameBytes(0, cfg))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, gen.stepCount(), "no generation calls after close")
	assert.Equal(t, engine.PhaseTerminated, s.Phase())
}

// TestPhaseReadableDuringActivation reads Phase from the caller while the
// frame loop runs greeting synthesis; under the race detector this fails if
// the engine's phase transitions are unsynchronized.
func TestPhaseReadableDuringActivation(t *testing.T) {
	cfg := testConfig()
	for i := 0; i < 20; i++ {
		s := New(Options{
			Config:       cfg,
			Format:       audio.PCM24k,
			Codec:        codec.NewLoopback(cfg.FrameSamples()),
			Generator:    &countingGen{},
			AutoActivate: true,
		}, nil)
		for j := 0; j < 50; j++ {
			_ = s.Phase()
		}
		collect(t, s.Output(), cfg.GreetingFrames)
		s.Close()
	}
}

// TestNoteTranscriptDuringClose hammers the transcriber callback while the
// session tears down. Late callbacks must be absorbed, never panic on the
// closed event channel or race the shutdown wait.
func TestNoteTranscriptDuringClose(t *testing.T) {
	cfg := testConfig()
	store := memory.NewMemStore()
	require.NoError(t, store.Store(context.Background(), "remembered", []float32{1, 0, 0}, nil))
	retriever := memory.NewRetriever(store, constEmbedder{}, approveAll{}, memory.DefaultWeights(), 15, 3)

	for i := 0; i < 20; i++ {
		s := New(Options{
			Config:       cfg,
			Format:       audio.PCM24k,
			Codec:        codec.NewLoopback(cfg.FrameSamples()),
			Generator:    &countingGen{},
			Retriever:    retriever,
			AutoActivate: true,
		}, nil)
		go func() {
			for range s.Events() {
			}
		}()

		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 25; j++ {
					s.NoteTranscript("late transcript")
				}
			}()
		}
		close(start)
		s.Close()
		wg.Wait()
		assert.Equal(t, engine.PhaseTerminated, s.Phase())
	}
}

func TestSlowConsumerSurfacesPlaybackDrops(t *testing.T) {
	cfg := testConfig()
	cfg.InboundQueue = 1 // outbound shares the queue size
	s := New(Options{
		Config:       cfg,
		Format:       audio.PCM24k,
		Codec:        codec.NewLoopback(cfg.FrameSamples()),
		Generator:    &countingGen{},
		AutoActivate: true,
	}, nil)
	defer s.Close()

	// never read Output: the greeting's second frame cannot be buffered
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-s.Events():
			if e.Kind == EventPlaybackDrop {
				assert.GreaterOrEqual(t, e.Dropped, int64(1))
				assert.GreaterOrEqual(t, s.OutboundDrops(), int64(1))
				return
			}
		case <-deadline:
			t.Fatalf("no playback drop event")
		}
	}
}

func TestManagerCloseAll(t *testing.T) {
	cfg := testConfig()
	m := NewManager()
	for i := 0; i < 3; i++ {
		s := New(Options{
			Config:    cfg,
			Format:    audio.PCM24k,
			Codec:     codec.NewLoopback(cfg.FrameSamples()),
			Generator: &countingGen{},
		}, nil)
		m.Add(s)
	}
	require.Equal(t, 3, m.Len())
	m.CloseAll()
	assert.Equal(t, 0, m.Len())
}

// helpers

func newWakeSet(t *testing.T) *wake.Set {
	t.Helper()
	return wake.NewSet([]string{"computer", "jarvis"}, 0.5)
}

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type approveAll struct{}

func (approveAll) Judge(ctx context.Context, convoContext, text string) (bool, bool, error) {
	return true, true, nil
}
