package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kaushikharsh99/Dropvault/internal/core/progress"
	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

type ProgressSubscriber interface {
	Subscribe(ctx context.Context, owner string) (*progress.Listener, []models.Progress, error)
	Unsubscribe(l *progress.Listener)
}

// ProgressHandler streams an owner's progress tuples as server-sent events.
type ProgressHandler struct {
	progress  ProgressSubscriber
	keepAlive time.Duration
	log       logger.ILogger
}

func NewProgressHandler(p ProgressSubscriber, log logger.ILogger) *ProgressHandler {
	return &ProgressHandler{progress: p, keepAlive: 25 * time.Second, log: log}
}

func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	l, replay, err := h.progress.Subscribe(r.Context(), userID)
	if err != nil {
		h.log.Error("progress_handler", "subscribe failed", map[string]interface{}{
			"owner_id": userID,
			"error":    err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer h.progress.Unsubscribe(l)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, p := range replay {
		if err := writeEvent(w, p); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case p, open := <-l.C():
			if !open {
				// dropped for falling behind; the client reconnects and gets a replay
				return
			}
			if err := writeEvent(w, p); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, p models.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	return err
}
