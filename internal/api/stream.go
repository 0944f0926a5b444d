package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/emitter"
)

// GET /api/v1/verdicts/stream
//
// Server-Sent Events feed of emitted verdicts. ?type=session or
// ?type=modality narrows the feed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, "verdict stream is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var types []emitter.EventType
	switch r.URL.Query().Get("type") {
	case "":
	case "session":
		types = append(types, emitter.EventSessionDecided)
	case "modality":
		types = append(types, emitter.EventModalityDecided)
	default:
		writeError(w, r, http.StatusBadRequest, "type must be session or modality")
		return
	}

	ch := s.deps.Bus.Subscribe(types...)
	defer s.deps.Bus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(s.deps.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			frame, err := ev.SSEFormat()
			if err != nil {
				slog.Warn("[API] Failed to encode stream event", "event_id", ev.ID, "error", err)
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
