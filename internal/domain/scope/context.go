package scope

import "context"

type contextKey struct{}

// WithScope 注入 scope 到 context
func WithScope(ctx context.Context, s TenantScope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext 从 context 提取 scope，缺失时 fail closed
func FromContext(ctx context.Context) (TenantScope, error) {
	s, ok := ctx.Value(contextKey{}).(TenantScope)
	if !ok || s.IsZero() {
		return TenantScope{}, ErrMissingScope
	}
	return s, nil
}
