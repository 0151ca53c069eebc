package api

import (
	"net/http"
	"strconv"

	"github.com/kjellm/anchor/internal/log"
	"github.com/kjellm/anchor/internal/retrieval"
)

// RetrievalHandler exposes raw retrieval results for tuning chunking and
// score thresholds without going through generation.
type RetrievalHandler struct {
	engine    *retrieval.Engine
	namespace string
	logger    log.Logger
}

// NewRetrievalHandler creates a new retrieval debug handler.
func NewRetrievalHandler(engine *retrieval.Engine, namespace string, logger log.Logger) *RetrievalHandler {
	return &RetrievalHandler{engine: engine, namespace: namespace, logger: logger}
}

// RegisterRoutes registers retrieval routes on the given mux.
func (h *RetrievalHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/retrieval/debug", h.debug)
}

// debugResponse is the response body for GET /api/retrieval/debug.
type debugResponse struct {
	Query     string               `json:"query"`
	Count     int                  `json:"count"`
	Citations []retrieval.Citation `json:"citations"`
}

// debug runs a retrieval pass for ?query=... and returns the scored chunks.
// ?k=N overrides the result count.
func (h *RetrievalHandler) debug(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query parameter is required")
		return
	}

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxResultCount {
			writeError(w, http.StatusBadRequest, "invalid_request", "k must be an integer between 1 and 50")
			return
		}
		k = n
	}

	citations, err := h.engine.Retrieve(r.Context(), h.namespace, query, k)
	if err != nil {
		h.logger.Error("retrieval debug failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "retrieval failed")
		return
	}

	writeJSON(w, http.StatusOK, debugResponse{
		Query:     query,
		Count:     len(citations),
		Citations: citations,
	})
}
