package opensearch

import (
	"context"
	"fmt"
	"strings"

	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/search"
)

// KeywordAdapter 基于 BM25 的关键词检索适配器
type KeywordAdapter struct {
	client *Client
}

// NewKeywordAdapter 创建关键词检索适配器
func NewKeywordAdapter(client *Client) *KeywordAdapter {
	return &KeywordAdapter{client: client}
}

func (a *KeywordAdapter) Source() search.Source { return search.SourceKeyword }

func (a *KeywordAdapter) Search(ctx context.Context, s scope.TenantScope, q search.Query, topK int) ([]search.Candidate, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []search.Candidate{}, nil
	}
	return a.client.SearchBM25(ctx, s, q, topK)
}

// VectorAdapter 基于 OpenSearch kNN 的向量检索适配器
type VectorAdapter struct {
	client   *Client
	embedder search.Embedder
}

// NewVectorAdapter 创建 kNN 向量检索适配器
func NewVectorAdapter(client *Client, embedder search.Embedder) *VectorAdapter {
	return &VectorAdapter{client: client, embedder: embedder}
}

func (a *VectorAdapter) Source() search.Source { return search.SourceVector }

// Search 只对原始查询向量化，扩展词不参与语义检索
func (a *VectorAdapter) Search(ctx context.Context, s scope.TenantScope, q search.Query, topK int) ([]search.Candidate, error) {
	if a.embedder == nil {
		return nil, search.ErrNotConfigured
	}
	vector, err := a.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return a.client.SearchKNN(ctx, s, vector, topK)
}
