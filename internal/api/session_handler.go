package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SessionHandler 会话上下文 API
type SessionHandler struct {
	sessions Sessions
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(sessions Sessions) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes 注册路由
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.Resume)
		r.Delete("/", h.Clear)
		r.Post("/interruptions", h.RecordInterruption)
		r.Put("/summary", h.UpdateSummary)
	})
	r.Get("/greeting", h.Greeting)
}

// RecordInterruption POST /api/v1/sessions/{sessionID}/interruptions
func (h *SessionHandler) RecordInterruption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	s, err := requestScope(r, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.sessions.RecordInterruption(r.Context(), s, req.Query); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"recorded": true})
}

// Resume GET /api/v1/sessions/{sessionID}
// 会话不存在或已过期时 data 为 null
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	s, err := requestScope(r, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	sc, err := h.sessions.Resume(r.Context(), s)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if sc == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// UpdateSummary PUT /api/v1/sessions/{sessionID}/summary
func (h *SessionHandler) UpdateSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Summary string `json:"summary"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	s, err := requestScope(r, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.sessions.UpdateSummary(r.Context(), s, req.Summary); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// Clear DELETE /api/v1/sessions/{sessionID}
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	s, err := requestScope(r, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.sessions.Clear(r.Context(), s); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Greeting GET /api/v1/greeting?session_id=
func (h *SessionHandler) Greeting(w http.ResponseWriter, r *http.Request) {
	s, err := requestScope(r, r.URL.Query().Get("session_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	g, err := h.sessions.RecognizeUser(r.Context(), s)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
