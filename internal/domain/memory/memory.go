package memory

import (
	"context"
	"math"
	"time"

	"recallweave/internal/domain/scope"
)

// Source 记忆快照来源
type Source string

const (
	SourcePrimary  Source = "PRIMARY"
	SourceFallback Source = "FALLBACK"
)

// Item 单条用户记忆
type Item struct {
	ID             string    `json:"id,omitempty"`
	Text           string    `json:"text"`
	RelevanceScore float64   `json:"relevance_score"`
	Timestamp      time.Time `json:"timestamp"`
}

// UserMemory 单次请求内的用户记忆快照
type UserMemory struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Items    []Item `json:"items"`
	Source   Source `json:"source"`
}

// IsEmpty 快照是否无内容
func (m UserMemory) IsEmpty() bool { return len(m.Items) == 0 }

// Highlights 返回前 n 条记忆文本
func (m UserMemory) Highlights(n int) []string {
	if n <= 0 || n > len(m.Items) {
		n = len(m.Items)
	}
	out := make([]string, 0, n)
	for _, it := range m.Items[:n] {
		out = append(out, it.Text)
	}
	return out
}

func empty(s scope.TenantScope, source Source) UserMemory {
	return UserMemory{
		TenantID: s.TenantID(),
		UserID:   s.UserID(),
		Items:    []Item{},
		Source:   source,
	}
}

// Primary 主记忆服务（权威来源）
type Primary interface {
	Fetch(ctx context.Context, s scope.TenantScope, limit int) ([]Item, error)
	Append(ctx context.Context, s scope.TenantScope, item Item) (Item, error)
}

// Cache 记忆快照缓存，key 由 scope 的用户级投影决定
type Cache interface {
	Load(ctx context.Context, s scope.TenantScope) ([]Item, bool, error)
	Store(ctx context.Context, s scope.TenantScope, items []Item) error
}

// validate 校验主服务返回的数据，不合法视为 malformed response
func validate(items []Item) error {
	for i, it := range items {
		if it.Text == "" {
			return malformed(i, "empty text")
		}
		if math.IsNaN(it.RelevanceScore) || math.IsInf(it.RelevanceScore, 0) || it.RelevanceScore < 0 || it.RelevanceScore > 1 {
			return malformed(i, "relevance_score out of range")
		}
		if it.Timestamp.IsZero() {
			return malformed(i, "missing timestamp")
		}
	}
	return nil
}
