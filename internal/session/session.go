// Package session composes the audio, wake, codec, engine, memory and
// transcription pieces into one conversation lifecycle per connection.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/duplex-voice-lab/internal/audio"
	"github.com/duplex-voice-lab/internal/codec"
	"github.com/duplex-voice-lab/internal/config"
	"github.com/duplex-voice-lab/internal/engine"
	"github.com/duplex-voice-lab/internal/logging"
	"github.com/duplex-voice-lab/internal/memory"
	"github.com/duplex-voice-lab/internal/transcribe"
	"github.com/duplex-voice-lab/internal/wake"
)

// Options carries everything a new session needs. The wake set and config
// are shared read-only snapshots; codec and generator instances are owned
// exclusively by the session they are given to.
type Options struct {
	Config     config.Config
	Format     audio.Format
	Codec      codec.Codec
	Generator  engine.Generator
	Retriever  *memory.Retriever
	Recognizer transcribe.Recognizer
	WakeWords  *wake.Set

	// AutoActivate skips wake-word gating and greets immediately, for
	// transports with no idle phase (an answered phone call).
	AutoActivate bool
}

// Session is one active conversation. A single frame-loop goroutine owns
// the scheduler, VAD, codec adapter and engine; the transport producer only
// enqueues bytes and never performs codec or generation work.
type Session struct {
	ID string

	cfg    config.Config
	format audio.Format

	sched     *audio.Scheduler
	vad       *audio.Detector
	wakeSet   *wake.Set
	eng       *engine.Engine
	retriever *memory.Retriever
	rec       transcribe.Recognizer
	feed      SegmentSink

	slot memory.Slot

	inbound    chan []byte
	outbound   chan []byte
	events     chan Event
	activateCh chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	// closeMu orders late emitters and retrieval spawns against Close:
	// once closing is set no event is sent and no goroutine is added, so
	// closing the events channel and waiting the group are both safe.
	closeMu sync.Mutex
	closing bool

	// epoch guards against applying retrievals that finish after teardown
	// or after a newer utterance superseded them.
	epoch atomic.Int64

	inDrops  int64
	outDrops int64

	mu          sync.Mutex
	activated   bool
	segment     []int16
	segmentAt   time.Time
	transcripts []string
}

// SegmentSink receives completed speech segments for background
// transcription. *transcribe.Transcriber satisfies it.
type SegmentSink interface {
	Enqueue(seg transcribe.Segment) bool
}

// New assembles a session and starts its frame loop.
func New(opts Options, feed SegmentSink) *Session {
	id := uuid.NewString()
	frameSize := opts.Config.FrameSamples()
	adapter := codec.NewAdapter(opts.Codec, frameSize)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:         id,
		cfg:        opts.Config,
		format:     opts.Format,
		sched:      audio.NewScheduler(frameSize),
		vad:        audio.NewDetector(opts.Config.VADThreshold, opts.Config.VADSpeechFrames, opts.Config.VADSilenceFrames),
		wakeSet:    opts.WakeWords,
		eng:        engine.New(opts.Generator, adapter, id, frameSize),
		retriever:  opts.Retriever,
		rec:        opts.Recognizer,
		feed:       feed,
		inbound:    make(chan []byte, opts.Config.InboundQueue),
		outbound:   make(chan []byte, opts.Config.InboundQueue),
		events:     make(chan Event, 64),
		activateCh: make(chan string, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	if opts.AutoActivate {
		s.activateCh <- ""
	}
	s.wg.Add(1)
	go s.run()
	logging.Infow("session: created", logging.SessionFields(id, s.eng.Phase().String())...)
	return s
}

// Push enqueues a raw transport chunk. It never blocks: when the frame loop
// is behind, the chunk is dropped and counted. Safe to call from the
// transport's receive goroutine.
func (s *Session) Push(b []byte) {
	chunk := append([]byte(nil), b...)
	select {
	case s.inbound <- chunk:
	default:
		atomic.AddInt64(&s.inDrops, 1)
		logging.Warnw("session: inbound queue full, dropping chunk", "session.id", s.ID, "bytes", len(b))
	}
}

// Output returns the playback byte stream in the transport's native format.
func (s *Session) Output() <-chan []byte { return s.outbound }

// Events returns the session event stream. The channel closes after the
// terminal status event.
func (s *Session) Events() <-chan Event { return s.events }

// InboundDrops reports chunks lost to a full inbound queue.
func (s *Session) InboundDrops() int64 { return atomic.LoadInt64(&s.inDrops) }

// OutboundDrops reports playback frames lost to a slow consumer.
func (s *Session) OutboundDrops() int64 { return atomic.LoadInt64(&s.outDrops) }

// Phase reports the engine lifecycle state. Test and introspection surface
// only; the frame loop owns transitions.
func (s *Session) Phase() engine.Phase { return s.eng.Phase() }

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case word := <-s.activateCh:
			s.activate(word)
		case b := <-s.inbound:
			s.handleChunk(b)
		}
	}
}

func (s *Session) handleChunk(b []byte) {
	pcm, err := audio.ToCanonical(b, s.format)
	if err != nil {
		var fe *audio.FormatError
		if errors.As(err, &fe) {
			logging.Warnw("session: malformed chunk dropped", "session.id", s.ID, "err", err)
			return
		}
		logging.Errorw("session: conversion failed", "session.id", s.ID, "err", err)
		return
	}
	for _, frame := range s.sched.Push(pcm) {
		s.processFrame(frame)
		// activation may have been requested while processing
		select {
		case word := <-s.activateCh:
			s.activate(word)
		default:
		}
	}
}

// processFrame runs VAD over the frame's sub-frames, maintains the speech
// segment, and when conversing drives one generation step.
func (s *Session) processFrame(frame audio.Frame) {
	speechEnded := false
	for off := 0; off < len(frame); off += s.cfg.SubFrame {
		end := off + s.cfg.SubFrame
		if end > len(frame) {
			end = len(frame)
		}
		if b := s.vad.Push(frame[off:end]); b == audio.BoundarySpeechEnd {
			speechEnded = true
		}
	}

	s.mu.Lock()
	if s.vad.Active() || speechEnded {
		if len(s.segment) == 0 {
			s.segmentAt = time.Now()
		}
		s.segment = append(s.segment, frame...)
	}
	var seg []int16
	var segAt time.Time
	if speechEnded && len(s.segment) > 0 {
		seg = s.segment
		segAt = s.segmentAt
		s.segment = nil
	}
	activated := s.activated
	s.mu.Unlock()

	if seg != nil {
		s.onUtterance(seg, segAt, activated)
	}

	if !activated || s.eng.Phase() != engine.PhaseConversing {
		return
	}

	injected := s.slot.Take()
	var texts []string
	if injected != nil {
		texts = injected.Texts
	}
	out, err := s.eng.Step(frame, texts)
	if err != nil {
		s.fatal(err)
		return
	}
	if injected != nil {
		s.emit(Event{Kind: EventMemoryInjected, SessionID: s.ID, Texts: texts, At: time.Now()})
	}
	s.sendAudio(out)
}

// onUtterance handles a completed speech segment: wake gating while idle,
// transcription feed once conversing.
func (s *Session) onUtterance(seg []int16, at time.Time, activated bool) {
	corrID := uuid.NewString()
	if !activated {
		if s.rec == nil || s.wakeSet == nil {
			return
		}
		// recognition is slow; keep it off the frame loop
		pcm := seg
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			text, conf, err := s.rec.Transcribe(s.ctx, pcm, corrID)
			if err != nil || text == "" {
				return
			}
			if det, ok := s.wakeSet.Match(text, conf); ok {
				select {
				case s.activateCh <- det.Word:
				default:
				}
			}
		}()
		return
	}
	if s.feed != nil {
		s.feed.Enqueue(transcribe.Segment{
			SessionID:     s.ID,
			CorrelationID: corrID,
			PCM:           seg,
			CapturedAt:    at,
		})
	}
}

// activate runs greeting synthesis and moves the session into conversing.
// Called only from the frame loop goroutine.
func (s *Session) activate(word string) {
	s.mu.Lock()
	already := s.activated
	s.mu.Unlock()
	if already {
		return
	}
	if word != "" {
		s.emit(Event{Kind: EventWake, SessionID: s.ID, Word: word, At: time.Now()})
		logging.Infow("session: wake word matched", "session.id", s.ID, "word", word)
	}
	s.emit(Event{Kind: EventStatus, SessionID: s.ID, State: engine.PhaseGreeting.String(), At: time.Now()})

	greeting, err := s.eng.Start(s.cfg.GreetingFrames)
	if err != nil {
		s.fatal(err)
		return
	}
	for _, f := range greeting {
		s.sendAudio(f)
	}
	s.mu.Lock()
	s.activated = true
	s.mu.Unlock()
	s.emit(Event{Kind: EventStatus, SessionID: s.ID, State: engine.PhaseConversing.String(), At: time.Now()})
}

// NoteTranscript is called by the transcription pipeline when a transcript
// for this session lands in the memory store. It surfaces the transcript
// event and kicks off memory retrieval for the next turn.
func (s *Session) NoteTranscript(text string) {
	s.emit(Event{Kind: EventTranscript, SessionID: s.ID, Text: text, At: time.Now()})

	s.mu.Lock()
	s.transcripts = append(s.transcripts, text)
	if len(s.transcripts) > 5 {
		s.transcripts = s.transcripts[len(s.transcripts)-5:]
	}
	convo := strings.Join(s.transcripts, "\n")
	s.mu.Unlock()

	if s.retriever == nil {
		return
	}
	epoch := s.epoch.Load()
	// register with the group under closeMu so the add cannot race a
	// concurrent Close past its Wait
	s.closeMu.Lock()
	if s.closing {
		s.closeMu.Unlock()
		return
	}
	s.wg.Add(1)
	s.closeMu.Unlock()
	go func() {
		defer s.wg.Done()
		approved, err := s.retriever.Retrieve(s.ctx, text, convo)
		if err != nil {
			var re *memory.RetrievalError
			if errors.As(err, &re) {
				logging.Warnw("session: retrieval failed, turn proceeds uninjected", "session.id", s.ID, "err", err)
				return
			}
			logging.Warnw("session: retrieval error", "session.id", s.ID, "err", err)
			return
		}
		if len(approved) == 0 {
			return
		}
		// discard results that arrive after teardown or supersession
		if s.epoch.Load() != epoch || s.ctx.Err() != nil {
			logging.Debugw("session: stale retrieval discarded", "session.id", s.ID)
			return
		}
		s.slot.Publish(&memory.InjectedContext{Texts: memory.Texts(approved)})
	}()
}

func (s *Session) sendAudio(frame audio.Frame) {
	b, err := audio.FromCanonical(frame, s.format)
	if err != nil {
		logging.Errorw("session: outbound conversion failed", "session.id", s.ID, "err", err)
		return
	}
	select {
	case s.outbound <- b:
	default:
		n := atomic.AddInt64(&s.outDrops, 1)
		logging.Warnw("session: outbound queue full, dropping frame", "session.id", s.ID, "dropped", n)
		// tell the transport playback is lossy; once on the first drop,
		// then periodically so a sustained stall stays visible
		if n == 1 || n%50 == 0 {
			s.emit(Event{Kind: EventPlaybackDrop, SessionID: s.ID, Dropped: n, At: time.Now()})
		}
	}
}

func (s *Session) emit(e Event) {
	// send under closeMu: Close flips closing before it closes the
	// channel, so a late emitter returns here instead of panicking on a
	// closed channel.
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closing {
		return
	}
	select {
	case s.events <- e:
	default:
		logging.Debugw("session: event queue full, dropping event", "session.id", s.ID, "kind", string(e.Kind))
	}
}

// fatal terminates the session from inside the frame loop. The engine has
// already released codec and generation state together by the time the
// error surfaces here.
func (s *Session) fatal(err error) {
	logging.Errorw("session: fatal error", "session.id", s.ID, "err", err)
	s.emit(Event{Kind: EventError, SessionID: s.ID, Error: err.Error(), At: time.Now()})
	go s.Close()
}

// Close halts the frame loop, releases codec and generation state together,
// and discards any in-flight retrieval. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closing = true
		s.closeMu.Unlock()
		s.epoch.Add(1)
		s.cancel()
		s.wg.Wait()
		s.eng.Close()
		s.slot.Clear()
		s.closeMu.Lock()
		select {
		case s.events <- Event{Kind: EventStatus, SessionID: s.ID, State: engine.PhaseTerminated.String(), At: time.Now()}:
		default:
		}
		close(s.events)
		s.closeMu.Unlock()
		close(s.outbound)
		logging.Infow("session: closed", logging.SessionFields(s.ID, s.eng.Phase().String())...)
	})
}
