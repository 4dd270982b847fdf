package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"recallweave/internal/domain/contextsearch"
)

// SearchHandler 上下文感知检索 API
type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// RegisterRoutes 注册路由
func (h *SearchHandler) RegisterRoutes(r chi.Router) {
	r.Post("/search", h.Search)
}

type searchRequest struct {
	Query       string `json:"query"`
	SessionID   string `json:"session_id,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// Search POST /api/v1/search
// 后端全部失败时仍返回 200，tier=FAILED
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	s, err := requestScope(r, req.SessionID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp, err := h.searcher.Search(r.Context(), s, contextsearch.Request{
		Query:       req.Query,
		TopK:        req.TopK,
		Interrupted: req.Interrupted,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
