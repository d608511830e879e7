package handlers

import (
	"net/http"

	"github.com/kaushikharsh99/Dropvault/internal/core/ingestion_engine"
)

type StatsSource interface {
	Stats() ingestion_engine.Stats
}

// Health reports liveness with the pipeline queue depths.
func Health(pipeline StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"pipeline": pipeline.Stats(),
		})
	}
}
