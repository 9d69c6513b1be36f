// Package config collects all runtime configuration from environment
// variables into one immutable snapshot read at startup. Sessions receive
// the snapshot at creation and never observe later mutation.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full engine configuration. Values are read once by FromEnv
// and treated as read-only afterwards.
type Config struct {
	// Audio geometry.
	SampleRate    int           // canonical rate, Hz
	FrameDuration time.Duration // one scheduling step
	SubFrame      int           // VAD sub-frame size, samples

	// Voice activity gate.
	VADThreshold     float64 // RMS level to consider a sub-frame loud
	VADSpeechFrames  int     // consecutive loud sub-frames to enter speaking
	VADSilenceFrames int     // consecutive quiet sub-frames to leave speaking

	// Wake word gating. AutoActivate bypasses the gate entirely for
	// transports with no idle phase (an answered phone call).
	WakeWords       []string
	WakeSensitivity float64
	AutoActivate    bool

	// Greeting synthesis.
	GreetingFrames int

	// Memory retrieval.
	RetrievalK        int
	RetrievalHalfLife time.Duration
	SimilarityWeight  float64
	RecencyWeight     float64
	FrequencyWeight   float64
	MaxInjected       int

	// Background transcription.
	MinSegment   time.Duration
	SegmentQueue int

	// Inbound audio queue (producer side, drop-on-full).
	InboundQueue int

	// Collaborator endpoints.
	STTURL       string
	STTTimeout   time.Duration
	EmbedURL     string
	EmbedModel   string
	EmbedTimeout time.Duration
	JudgeURL     string
	JudgeModel   string
	JudgeToken   string
	JudgeTimeout time.Duration

	// Memory store backend. Empty PostgresDSN selects the in-memory store.
	PostgresDSN string

	// HTTP server bind address for the media transport.
	ListenAddr string
}

// FromEnv builds a Config from the process environment, applying defaults
// for anything unset.
func FromEnv() Config {
	return Config{
		SampleRate:    24000,
		FrameDuration: 80 * time.Millisecond,
		SubFrame:      480, // 20ms at 24kHz

		VADThreshold:     getFloat("VAD_RMS_THRESHOLD", 0.015),
		VADSpeechFrames:  getInt("VAD_SPEECH_FRAMES", 3),
		VADSilenceFrames: getInt("VAD_SILENCE_FRAMES", 25),

		WakeWords:       getList("WAKE_PHRASES", []string{"computer", "hey computer", "ok computer"}),
		WakeSensitivity: getFloat("WAKE_SENSITIVITY", 0.5),
		AutoActivate:    getBool("AUTO_ACTIVATE", false),

		GreetingFrames: getInt("GREETING_FRAMES", 25),

		RetrievalK:        getInt("MEMORY_TOP_K", 15),
		RetrievalHalfLife: getDuration("MEMORY_HALF_LIFE", 72*time.Hour),
		SimilarityWeight:  0.6,
		RecencyWeight:     0.3,
		FrequencyWeight:   0.1,
		MaxInjected:       3,

		MinSegment:   getDuration("MIN_SEGMENT", 500*time.Millisecond),
		SegmentQueue: getInt("SEGMENT_QUEUE", 16),

		InboundQueue: getInt("INBOUND_QUEUE", 256),

		STTURL:       strings.TrimSpace(os.Getenv("STT_URL")),
		STTTimeout:   getDuration("STT_TIMEOUT", 15*time.Second),
		EmbedURL:     strings.TrimSpace(os.Getenv("EMBED_URL")),
		EmbedModel:   getString("EMBED_MODEL", "nomic-embed-text"),
		EmbedTimeout: getDuration("EMBED_TIMEOUT", 10*time.Second),
		JudgeURL:     strings.TrimSpace(os.Getenv("JUDGE_URL")),
		JudgeModel:   strings.TrimSpace(os.Getenv("JUDGE_MODEL")),
		JudgeToken:   strings.TrimSpace(os.Getenv("JUDGE_AUTH_TOKEN")),
		JudgeTimeout: getDuration("JUDGE_TIMEOUT", 10*time.Second),

		PostgresDSN: strings.TrimSpace(os.Getenv("POSTGRES_DSN")),

		ListenAddr: getString("LISTEN_ADDR", ":8080"),
	}
}

// FrameSamples returns the number of canonical samples in one frame.
func (c Config) FrameSamples() int {
	return int(c.FrameDuration.Seconds() * float64(c.SampleRate))
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.ToLower(strings.TrimSpace(p))
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
