package handlers

import (
	"context"
	"net/http"

	"github.com/kaushikharsh99/Dropvault/internal/core/resync"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

type RepoSyncer interface {
	Sync(ctx context.Context, ownerID string) (resync.Report, error)
}

type SyncHandler struct {
	github RepoSyncer // nil when no token is configured
	log    logger.ILogger
}

func NewSyncHandler(github RepoSyncer, log logger.ILogger) *SyncHandler {
	return &SyncHandler{github: github, log: log}
}

// SyncGitHub mirrors the configured GitHub account into the caller's vault.
func (h *SyncHandler) SyncGitHub(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}
	if h.github == nil {
		writeError(w, http.StatusServiceUnavailable, "github sync is not configured")
		return
	}

	rep, err := h.github.Sync(r.Context(), userID)
	if err != nil {
		h.log.Error("sync_handler", "github sync failed", map[string]interface{}{
			"owner_id": userID,
			"error":    err.Error(),
		})
		writeError(w, http.StatusBadGateway, "github sync failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
