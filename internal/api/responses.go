package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"recallweave/internal/domain/contextsearch"
	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/session"
	applog "recallweave/internal/platform/log"
	"recallweave/internal/tool"
)

// APIResponse 统一 JSON 响应
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: "ok",
		Data:    data,
	})
}

// writeErrorCode 带错误码的统一错误响应
func writeErrorCode(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: message,
		Error:   code,
	})
}

// writeDomainError 领域错误 -> HTTP 状态码
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var storeErr *session.StoreError

	switch {
	case scope.IsScopeError(err):
		writeErrorCode(w, http.StatusForbidden, "forbidden_scope", err.Error())
	case errors.Is(err, contextsearch.ErrInvalidQuery),
		errors.Is(err, session.ErrQueryRequired),
		errors.Is(err, memory.ErrInvalidItem):
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, tool.ErrToolNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &storeErr), errors.Is(err, memory.ErrPrimaryUnavailable):
		applog.Ctx(r.Context()).Error("[API] Store unavailable", "error", err)
		writeErrorCode(w, http.StatusServiceUnavailable, "unavailable", "Backing store is temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeErrorCode(w, http.StatusGatewayTimeout, "deadline_exceeded", "Request deadline exceeded")
	default:
		applog.Ctx(r.Context()).Error("[API] Request failed", "error", err)
		writeErrorCode(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}
