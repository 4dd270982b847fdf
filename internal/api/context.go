package api

import (
	"net/http"
	"strings"

	"recallweave/internal/domain/scope"
)

// requestScope 取鉴权注入的 scope；sessionID 非空时覆盖 token 中的会话
func requestScope(r *http.Request, sessionID string) (scope.TenantScope, error) {
	s, err := scope.FromContext(r.Context())
	if err != nil {
		return scope.TenantScope{}, err
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		return s.WithSession(sessionID)
	}
	return s, nil
}
