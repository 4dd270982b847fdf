package search

import (
	"context"
	"time"

	"recallweave/internal/domain/scope"
)

// Adapter 检索后端（向量 / 关键词）
// 失败时返回 error 且不返回部分结果；调用幂等
type Adapter interface {
	Source() Source
	Search(ctx context.Context, s scope.TenantScope, q Query, topK int) ([]Candidate, error)
}

// Embedder 查询向量化接口
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// bounded 为适配器加上单次调用超时，并统一错误为 BackendUnavailable
type bounded struct {
	inner   Adapter
	timeout time.Duration
}

// Bound 包装适配器：超时 timeout（<=0 不设限），错误统一转换
func Bound(inner Adapter, timeout time.Duration) Adapter {
	if inner == nil {
		return nil
	}
	return &bounded{inner: inner, timeout: timeout}
}

func (b *bounded) Source() Source { return b.inner.Source() }

func (b *bounded) Search(ctx context.Context, s scope.TenantScope, q Query, topK int) ([]Candidate, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	candidates, err := b.inner.Search(ctx, s, q, topK)
	if err == nil && ctx.Err() != nil {
		// 后端忽略了 ctx，结果已超出预算
		err = ctx.Err()
	}
	if err != nil {
		return nil, Unavailable(b.inner.Source(), err)
	}

	// 适配器可能返回共享切片，复制后再标记来源
	source := b.inner.Source()
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.Source = source
		out[i] = c
	}
	return out, nil
}
