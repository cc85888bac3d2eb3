package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"ewintr.nl/scribe/progress"
)

// ProgressAPI streams the stage events of one extraction run as
// server-sent events. The stream ends at a terminal stage or when the
// client goes away.
type ProgressAPI struct {
	registry *progress.Registry
	logger   *slog.Logger
}

func NewProgressAPI(registry *progress.Registry, logger *slog.Logger) *ProgressAPI {
	return &ProgressAPI{
		registry: registry,
		logger:   logger,
	}
}

func (p *ProgressAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawID, _ := ShiftPath(r.URL.Path)
	if r.Method != http.MethodGet || rawID == "" {
		w.Header().Set("Content-Type", "application/json")
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the progress api", r.Method, rawID))

		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		Error(w, http.StatusBadRequest, "invalid extraction id", err)

		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		Error(w, http.StatusInternalServerError, "streaming unsupported", errors.New("response writer cannot flush"))

		return
	}

	events, cancel := p.registry.Register(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			body, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("cannot marshal progress event", slog.Any("error", err))

				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Stage, body)
			flusher.Flush()
			if ev.Stage == progress.StageCompleted || ev.Stage == progress.StageFailed {
				return
			}
		}
	}
}
