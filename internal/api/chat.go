package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/kjellm/anchor/internal/chat"
	"github.com/kjellm/anchor/internal/log"
)

// maxMessageLen bounds a single chat message in runes.
const maxMessageLen = 2000

// maxResultCount caps the per-request citation count override.
const maxResultCount = 50

// ChatHandler handles the conversational endpoint.
type ChatHandler struct {
	orc       *chat.Orchestrator
	namespace string
	logger    log.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(orc *chat.Orchestrator, namespace string, logger log.Logger) *ChatHandler {
	return &ChatHandler{orc: orc, namespace: namespace, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.send)
}

// chatRequest is the request body for POST /api/chat. Namespace and K are
// optional; they default to the configured namespace and result count.
type chatRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Message   string `json:"message"`
	K         int    `json:"k,omitempty"`
}

// send runs one grounded conversational turn.
//
// Request:  {"sessionId": "...", "message": "..."}
// Response: chat.TurnResponse JSON.
func (h *ChatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLen {
		writeError(w, http.StatusBadRequest, "invalid_request", "message too long")
		return
	}
	if req.K < 0 || req.K > maxResultCount {
		writeError(w, http.StatusBadRequest, "invalid_request", "k must be between 0 and 50 (0 or omitted uses the default)")
		return
	}

	namespace := req.Namespace
	if namespace == "" {
		namespace = h.namespace
	}
	resp, err := h.orc.Respond(r.Context(), chat.TurnRequest{
		SessionID: req.SessionID,
		Namespace: namespace,
		Message:   req.Message,
		K:         req.K,
	})
	if err != nil {
		if errors.Is(err, chat.ErrInvalidSession) {
			writeError(w, http.StatusBadRequest, "invalid_session", "session id is not valid")
			return
		}
		h.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
