package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MemoryHandler 用户记忆 API
type MemoryHandler struct {
	memories Memories
}

func NewMemoryHandler(memories Memories) *MemoryHandler {
	return &MemoryHandler{memories: memories}
}

func (h *MemoryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/memory", h.Get)
	r.Post("/memory", h.Remember)
}

// Get GET /api/v1/memory，主服务不可用时返回缓存（source=FALLBACK），不会失败
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := requestScope(r, "")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.memories.GetUserMemory(r.Context(), s))
}

// Remember POST /api/v1/memory
func (h *MemoryHandler) Remember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text           string   `json:"text"`
		RelevanceScore *float64 `json:"relevance_score,omitempty"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	s, err := requestScope(r, "")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	relevance := 0.5
	if req.RelevanceScore != nil {
		relevance = *req.RelevanceScore
	}

	item, err := h.memories.Remember(r.Context(), s, req.Text, relevance)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
