package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"FeedRelay/internal/logger"
	"FeedRelay/internal/oracle"
)

// keepAliveInterval is how often an idle event stream sends a blank line.
const keepAliveInterval = 15 * time.Second

// handleEvents streams accepted updates as newline-delimited JSON until the
// client goes away. ?feed= restricts the stream to one feed. Subscribers that
// fall behind miss events; the count endpoint tells them what they skipped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var only *oracle.FeedID

	if q := r.URL.Query().Get("feed"); q != "" {
		f, err := oracle.ParseFeedID(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid feed id")
			return
		}

		only = &f
	}

	rc := http.NewResponseController(w)

	// The stream outlives the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, cancel := s.relay.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	enc := json.NewEncoder(w)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}

		case ev, ok := <-updates:
			if !ok {
				return
			}

			if only != nil && ev.Feed != *only {
				continue
			}

			if err := enc.Encode(EventFrom(ev)); err != nil {
				logger.Debug("event stream closed", "error", err)
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}
