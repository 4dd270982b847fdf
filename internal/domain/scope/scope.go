package scope

import (
	"regexp"
	"strings"
)

// idPattern 合法标识符：字母数字开头，不含冒号，保证 key 拼接无歧义
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

// TenantScope 请求的隔离边界（tenant + user + 可选 session）
// 字段不可导出，只能通过 New 构造，构造后不可变
type TenantScope struct {
	tenantID  string
	userID    string
	sessionID string
}

// New 校验并构造 TenantScope
// tenant/user 必填，session 可选；任一字段格式非法返回 *Error
func New(tenantID, userID, sessionID string) (TenantScope, error) {
	tenantID = strings.TrimSpace(tenantID)
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)

	if tenantID == "" {
		return TenantScope{}, newError("tenant_id", "missing")
	}
	if !idPattern.MatchString(tenantID) {
		return TenantScope{}, newError("tenant_id", "malformed")
	}
	if userID == "" {
		return TenantScope{}, newError("user_id", "missing")
	}
	if !idPattern.MatchString(userID) {
		return TenantScope{}, newError("user_id", "malformed")
	}
	if sessionID != "" && !idPattern.MatchString(sessionID) {
		return TenantScope{}, newError("session_id", "malformed")
	}

	return TenantScope{tenantID: tenantID, userID: userID, sessionID: sessionID}, nil
}

func (s TenantScope) TenantID() string  { return s.tenantID }
func (s TenantScope) UserID() string    { return s.userID }
func (s TenantScope) SessionID() string { return s.sessionID }

// HasSession 是否携带 session
func (s TenantScope) HasSession() bool { return s.sessionID != "" }

// IsZero 未经 New 构造的零值
func (s TenantScope) IsZero() bool { return s.tenantID == "" || s.userID == "" }

// WithSession 返回替换了 session 的新 scope
func (s TenantScope) WithSession(sessionID string) (TenantScope, error) {
	return New(s.tenantID, s.userID, sessionID)
}

// UserLevel 去掉 session 的用户级投影
func (s TenantScope) UserLevel() TenantScope {
	return TenantScope{tenantID: s.tenantID, userID: s.userID}
}

// Key 规范化存储/缓存 key：
// {namespace}:tenant:{t}:user:{u}[:session:{s}][:{suffix}...]
func (s TenantScope) Key(namespace string, suffix ...string) string {
	var b strings.Builder
	if namespace != "" {
		b.WriteString(namespace)
		b.WriteByte(':')
	}
	b.WriteString("tenant:")
	b.WriteString(s.tenantID)
	b.WriteString(":user:")
	b.WriteString(s.userID)
	if s.sessionID != "" {
		b.WriteString(":session:")
		b.WriteString(s.sessionID)
	}
	for _, part := range suffix {
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// UserKey 用户级 key（忽略 session），用于按用户共享的数据
func (s TenantScope) UserKey(namespace string, suffix ...string) string {
	return s.UserLevel().Key(namespace, suffix...)
}

// SessionKey 会话级 key，scope 未携带 session 时返回 *Error
func (s TenantScope) SessionKey(namespace string, suffix ...string) (string, error) {
	if s.IsZero() {
		return "", ErrMissingScope
	}
	if !s.HasSession() {
		return "", newError("session_id", "missing")
	}
	return s.Key(namespace, suffix...), nil
}

// String 日志友好的表示
func (s TenantScope) String() string {
	return s.Key("")
}

// LogArgs 日志字段
func (s TenantScope) LogArgs() []any {
	args := []any{"tenant_id", s.tenantID, "user_id", s.userID}
	if s.sessionID != "" {
		args = append(args, "session_id", s.sessionID)
	}
	return args
}
