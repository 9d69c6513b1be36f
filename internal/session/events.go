package session

import "time"

// EventKind enumerates the per-session event stream exposed to transports.
type EventKind string

const (
	EventStatus         EventKind = "status_change"
	EventTranscript     EventKind = "transcript"
	EventMemoryInjected EventKind = "memory_injected"
	EventWake           EventKind = "wake"
	EventError          EventKind = "error"
	EventPlaybackDrop   EventKind = "playback_drop"
)

// Event is one entry in the session's event stream, serialized as-is to
// transport clients.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	Texts     []string  `json:"texts,omitempty"`
	Word      string    `json:"word,omitempty"`
	Error     string    `json:"error,omitempty"`
	Dropped   int64     `json:"dropped,omitempty"`
	At        time.Time `json:"at"`
}
