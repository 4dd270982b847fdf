package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"recallweave/internal/tool"
)

// ToolHandler 以 function calling 形式暴露检索与会话能力
type ToolHandler struct {
	registry *tool.Registry
}

func NewToolHandler(registry *tool.Registry) *ToolHandler {
	return &ToolHandler{registry: registry}
}

func (h *ToolHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tools", h.List)
	r.Post("/tools/{name}", h.Execute)
}

// List GET /api/v1/tools
func (h *ToolHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Definitions())
}

// Execute POST /api/v1/tools/{name}，请求体即工具参数 JSON
func (h *ToolHandler) Execute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.registry.Has(name) {
		writeDomainError(w, r, tool.ErrToolNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	out, err := h.registry.Execute(r.Context(), name, string(body))
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tool":   name,
		"output": json.RawMessage(out),
	})
}
