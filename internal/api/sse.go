package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mfgtest/orchestrator/internal/session"
)

// handleStreamSession implements GET /api/v1/sessions/{id}/stream as a
// Server-Sent Events feed of session.Snapshot values (spec.md §6.4
// subscribe; SPEC_FULL.md §6).
func (s *Server) handleStreamSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	stream, err := s.registry.Subscribe(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound(err.Error()))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorResponse(w, r, s.logger, InternalServerError("streaming unsupported"))

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-stream:
			if !ok {
				return
			}

			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}

			if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
				return
			}

			flusher.Flush()

			if snap.Done {
				return
			}
		}
	}
}
