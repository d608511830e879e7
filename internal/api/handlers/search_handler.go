package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kaushikharsh99/Dropvault/internal/core/retrieval"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

type Searcher interface {
	Search(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResponse, error)
}

type SearchHandler struct {
	engine Searcher
	log    logger.ILogger
}

func NewSearchHandler(engine Searcher, log logger.ILogger) *SearchHandler {
	return &SearchHandler{engine: engine, log: log}
}

// Search handles GET /api/search?q=...&tags=a,b
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownerID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var tags []string
	if raw := normalizeTags(q.Get("tags")); raw != "" {
		tags = strings.Split(raw, ",")
	}

	resp, err := h.engine.Search(r.Context(), retrieval.SearchRequest{
		Query:   strings.TrimSpace(q.Get("q")),
		OwnerID: userID,
		Tags:    tags,
	})
	if errors.Is(err, retrieval.ErrEmptyQuery) {
		writeError(w, http.StatusBadRequest, "query is empty")
		return
	}
	if err != nil {
		h.log.Error("search_handler", "search failed", map[string]interface{}{
			"owner_id": userID,
			"error":    err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
