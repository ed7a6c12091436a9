package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TobiSchelling/kursil/internal/apperr"
)

const heartbeatInterval = 15 * time.Second

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		s.writeError(w, apperr.New(apperr.KindTaskNotFound, "background tasks are disabled"))
		return
	}
	task, err := s.runner.Tracker().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleTaskEvents streams task progress as server-sent events until the
// terminal event or client disconnect.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		s.writeError(w, apperr.New(apperr.KindTaskNotFound, "background tasks are disabled"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, apperr.New(apperr.KindInternal, "streaming unsupported"))
		return
	}
	ctx := r.Context()
	events, cancel, err := s.runner.Tracker().Subscribe(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("dropping unencodable progress event", "task_id", ev.TaskID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
			if ev.Done {
				return
			}
		}
	}
}
