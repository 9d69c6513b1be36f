package transcribe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duplex-voice-lab/internal/logging"
	"github.com/duplex-voice-lab/internal/memory"
)

// TranscriptionError is non-fatal: the transcript is simply lost.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return "transcription: " + e.Err.Error() }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// Segment is one completed stretch of speech cut at an utterance boundary.
type Segment struct {
	SessionID     string
	CorrelationID string
	PCM           []int16
	CapturedAt    time.Time
}

// Transcriber consumes completed segments on its own goroutine, transcribes
// them, and writes the text into the memory store. It never feeds the live
// generation path; failure here only loses a transcript.
type Transcriber struct {
	rec        Recognizer
	store      memory.Store
	embed      memory.Embedder
	sampleRate int
	minSamples int

	onTranscript func(sessionID, text string)

	ch     chan Segment
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropCount  int64
	shortCount int64
}

// New starts a Transcriber. minSegment filters noise: segments shorter than
// it are discarded without transcription. onTranscript, when non-nil, is
// invoked for every stored transcript (the session event surface).
func New(rec Recognizer, store memory.Store, embed memory.Embedder, sampleRate int, minSegment time.Duration, queueSize int, onTranscript func(sessionID, text string)) *Transcriber {
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transcriber{
		rec:          rec,
		store:        store,
		embed:        embed,
		sampleRate:   sampleRate,
		minSamples:   int(minSegment.Seconds() * float64(sampleRate)),
		onTranscript: onTranscript,
		ch:           make(chan Segment, queueSize),
		ctx:          ctx,
		cancel:       cancel,
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Enqueue hands a segment to the background worker. It never blocks; on a
// full queue the segment is dropped and counted.
func (t *Transcriber) Enqueue(seg Segment) bool {
	if len(seg.PCM) < t.minSamples {
		atomic.AddInt64(&t.shortCount, 1)
		logging.Debugw("transcriber: segment below minimum duration, discarded",
			logging.SegmentFields(seg.SessionID, seg.CorrelationID, len(seg.PCM), len(seg.PCM)*1000/t.sampleRate)...)
		return false
	}
	select {
	case t.ch <- seg:
		return true
	default:
		atomic.AddInt64(&t.dropCount, 1)
		logging.Warnw("transcriber: queue full, dropping segment",
			logging.SegmentFields(seg.SessionID, seg.CorrelationID, len(seg.PCM), len(seg.PCM)*1000/t.sampleRate)...)
		return false
	}
}

func (t *Transcriber) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case seg, ok := <-t.ch:
			if !ok {
				return
			}
			t.handle(seg)
		}
	}
}

func (t *Transcriber) handle(seg Segment) {
	text, _, err := t.rec.Transcribe(t.ctx, seg.PCM, seg.CorrelationID)
	if err != nil {
		terr := &TranscriptionError{Err: err}
		logging.Warnw("transcriber: transcription failed", "correlation_id", seg.CorrelationID, "err", terr)
		return
	}
	if text == "" {
		return
	}
	vec, err := t.embed.Embed(t.ctx, text)
	if err != nil {
		logging.Warnw("transcriber: embed failed, transcript not stored", "correlation_id", seg.CorrelationID, "err", err)
		return
	}
	meta := map[string]string{
		"session_id":  seg.SessionID,
		"captured_at": seg.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := t.store.Store(t.ctx, text, vec, meta); err != nil {
		logging.Warnw("transcriber: store failed, transcript lost", "correlation_id", seg.CorrelationID, "err", err)
		return
	}
	logging.Infow("transcriber: transcript stored",
		"session.id", seg.SessionID, "correlation_id", seg.CorrelationID, "text_len", len(text))
	if t.onTranscript != nil {
		t.onTranscript(seg.SessionID, text)
	}
}

// Dropped returns how many segments were lost to a full queue.
func (t *Transcriber) Dropped() int64 { return atomic.LoadInt64(&t.dropCount) }

// Close stops the worker. Pending segments are abandoned.
func (t *Transcriber) Close() {
	t.cancel()
	t.wg.Wait()
}
