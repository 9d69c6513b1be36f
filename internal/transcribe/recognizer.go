// Package transcribe converts completed audio segments to text off the hot
// path, feeding the memory store and the session transcript stream.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duplex-voice-lab/internal/audio"
	"github.com/duplex-voice-lab/internal/httpx"
	"github.com/duplex-voice-lab/internal/logging"
)

// Recognizer is the external speech-to-text contract. Implementations return
// the recognized text and the recognizer's confidence in it.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []int16, correlationID string) (text string, confidence float64, err error)
}

// HTTPRecognizer posts WAV-wrapped canonical PCM to a whisper-server style
// endpoint and reads {"text": ..., "confidence": ...} back.
type HTTPRecognizer struct {
	URL        string
	SampleRate int
	Timeout    time.Duration
	Client     *http.Client
}

func (r *HTTPRecognizer) Transcribe(ctx context.Context, pcm []int16, correlationID string) (string, float64, error) {
	if r.URL == "" {
		return "", 0, fmt.Errorf("recognizer URL not configured")
	}
	wav := audio.BuildWAV(audio.PCMBytes(pcm), r.SampleRate, 1, 16)

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: r.Timeout}
	}
	sendTs := time.Now()
	resp, err := httpx.PostWithRetries(ctx, client, r.URL, wav, "audio/wav", "", r.Timeout, 3, correlationID)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("stt status %d", resp.StatusCode)
	}
	var out struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, err
	}
	logging.Debugw("stt response received",
		"correlation_id", correlationID,
		"latency_ms", time.Since(sendTs).Milliseconds(),
		"text_len", len(out.Text))
	conf := out.Confidence
	if conf == 0 {
		// servers that omit confidence are treated as fully confident
		conf = 1
	}
	return strings.TrimSpace(out.Text), conf, nil
}
