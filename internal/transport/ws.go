// Package transport serves the bidirectional media stream over websocket:
// binary messages carry audio bytes both ways, text messages carry the
// session event stream out. The transport only shuttles bytes; all codec
// and generation work stays on the session's own goroutine.
package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/duplex-voice-lab/internal/audio"
	"github.com/duplex-voice-lab/internal/logging"
	"github.com/duplex-voice-lab/internal/session"
)

// SessionFactory builds a session for a newly connected client in the given
// native format.
type SessionFactory func(f audio.Format) *session.Session

// Server upgrades /media requests and bridges each connection to one
// session.
type Server struct {
	mgr      *session.Manager
	build    SessionFactory
	upgrader websocket.Upgrader
}

// NewServer wires a media server over the given registry and factory.
func NewServer(mgr *session.Manager, build SessionFactory) *Server {
	return &Server{
		mgr:   mgr,
		build: build,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// media clients are not browsers; origin checks stay off
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// formatFromQuery maps the ?format= parameter to a converter format.
// Unknown values fall back to canonical PCM.
func formatFromQuery(r *http.Request) (audio.Format, bool) {
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "pcm24k":
		return audio.PCM24k, false
	case "pcm48k":
		return audio.PCM48k, false
	case "mulaw8k":
		return audio.Mulaw8k, false
	case "opus48k":
		// opus payloads are decoded transport-side to 48k PCM
		return audio.PCM48k, true
	}
	return audio.PCM24k, false
}

// HandleMedia is the websocket endpoint. Connection establishment creates
// the session; disconnect tears it down.
func (s *Server) HandleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("transport: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	format, opusIn := formatFromQuery(r)

	sess := s.build(format)
	s.mgr.Add(sess)
	logging.Infow("transport: media stream connected", "session.id", sess.ID, "format", format.String(), "opus_in", opusIn, "remote", r.RemoteAddr)

	var dec *opusStream
	if opusIn {
		d, err := newOpusStream()
		if err != nil {
			logging.Errorw("transport: opus decoder init failed", "session.id", sess.ID, "err", err)
			s.mgr.Remove(sess.ID)
			_ = conn.Close()
			return
		}
		dec = d
	}

	// single writer goroutine: gorilla permits one concurrent writer
	done := make(chan struct{})
	go func() {
		defer close(done)
		out := sess.Output()
		events := sess.Events()
		for out != nil || events != nil {
			select {
			case b, ok := <-out:
				if !ok {
					out = nil
					continue
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
					return
				}
			case e, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if dec != nil {
			pcm, derr := dec.decode(data)
			if derr != nil {
				logging.Warnw("transport: opus decode error, packet dropped", "session.id", sess.ID, "err", derr)
				continue
			}
			sess.Push(pcm)
			continue
		}
		sess.Push(data)
	}

	s.mgr.Remove(sess.ID)
	_ = conn.Close()
	<-done
	logging.Infow("transport: media stream closed", "session.id", sess.ID)
}
