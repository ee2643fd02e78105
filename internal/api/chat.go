package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/corvidlabs/lectern/internal/answer"
	"github.com/corvidlabs/lectern/internal/log"
	"github.com/corvidlabs/lectern/internal/retrieve"
)

// MaxQuestionLen caps the question body; longer input is rejected.
const MaxQuestionLen = 4000

// maxRequestBody bounds the whole JSON request body.
const maxRequestBody = 1 << 20

// Retriever retrieves context for a question, satisfied by
// *retrieve.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string) []retrieve.ContextItem
}

// Generator produces answers, satisfied by *answer.Generator.
type Generator interface {
	Generate(ctx context.Context, question string, items []retrieve.ContextItem, history []answer.Message) (*answer.Answer, error)
}

// ChatHandler handles the question-answering endpoint.
type ChatHandler struct {
	retriever Retriever
	generator Generator
	logger    log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(retriever Retriever, generator Generator, logger log.Logger) *ChatHandler {
	return &ChatHandler{retriever: retriever, generator: generator, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Message string           `json:"message"`
	History []answer.Message `json:"history,omitempty"`
}

// handleChat retrieves context for the question and generates a cited
// answer. Retrieval failures degrade to an uncited answer; generation
// failures return 502.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "MISSING_MESSAGE", "message is required")
		return
	}
	if len(req.Message) > MaxQuestionLen {
		writeError(w, http.StatusBadRequest, "MESSAGE_TOO_LONG", "message exceeds maximum length")
		return
	}

	ctx := r.Context()
	items := h.retriever.Retrieve(ctx, req.Message)

	ans, err := h.generator.Generate(ctx, req.Message, items, req.History)
	if err != nil {
		h.logger.Error("generating answer",
			"error", err,
			"request_id", requestIDFromContext(ctx))
		writeError(w, http.StatusBadGateway, "GENERATION_FAILED", "answer generation failed")
		return
	}

	writeJSON(w, http.StatusOK, ans)
}
