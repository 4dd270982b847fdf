package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"recallweave/internal/domain/scope"
	"recallweave/internal/metrics"
	applog "recallweave/internal/platform/log"
)

// ChainConfig 记忆降级链配置
type ChainConfig struct {
	PrimaryTimeoutMs int `json:"primary_timeout_ms"` // 主服务单次超时，需小于整体记忆预算
	CacheTimeoutMs   int `json:"cache_timeout_ms"`
	MaxItems         int `json:"max_items"`
}

// DefaultChainConfig 默认配置（整体预算 100ms）
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		PrimaryTimeoutMs: 80,
		CacheTimeoutMs:   20,
		MaxItems:         20,
	}
}

func (c *ChainConfig) normalize() {
	def := DefaultChainConfig()
	if c.PrimaryTimeoutMs <= 0 {
		c.PrimaryTimeoutMs = def.PrimaryTimeoutMs
	}
	if c.CacheTimeoutMs <= 0 {
		c.CacheTimeoutMs = def.CacheTimeoutMs
	}
	if c.MaxItems <= 0 {
		c.MaxItems = def.MaxItems
	}
}

// Chain 用户记忆降级链：PRIMARY_TRY -> FALLBACK_TRY -> RETURN
// GetUserMemory 永不返回错误
type Chain struct {
	primary Primary // 可为 nil，此时直接走缓存
	cache   Cache   // 可为 nil
	config  ChainConfig

	// writeThrough 主服务成功后异步回写缓存，测试可替换为同步
	writeThrough func(fn func())
}

// NewChain 创建记忆降级链
func NewChain(primary Primary, cache Cache, config ChainConfig) *Chain {
	config.normalize()
	applog.Info("[Memory/Chain] Initialized",
		"has_primary", primary != nil,
		"has_cache", cache != nil,
		"primary_timeout_ms", config.PrimaryTimeoutMs,
	)
	return &Chain{
		primary:      primary,
		cache:        cache,
		config:       config,
		writeThrough: func(fn func()) { go fn() },
	}
}

// GetUserMemory 读取用户记忆，主服务任何失败都降级到缓存，缓存也失败则返回空快照
func (c *Chain) GetUserMemory(ctx context.Context, s scope.TenantScope) UserMemory {
	start := time.Now()
	log := applog.Ctx(ctx)

	items, err := c.tryPrimary(ctx, s)
	if err == nil {
		metrics.MemoryFetchTotal.WithLabelValues(string(SourcePrimary)).Inc()
		c.refreshCache(s, items)
		log.Debug("[Memory/Chain] Primary hit",
			"items", len(items),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return UserMemory{
			TenantID: s.TenantID(),
			UserID:   s.UserID(),
			Items:    items,
			Source:   SourcePrimary,
		}
	}

	log.Warn("[Memory/Chain] Primary failed, using fallback", "error", err)
	metrics.MemoryFetchTotal.WithLabelValues(string(SourceFallback)).Inc()

	cached, ok := c.tryCache(ctx, s)
	if !ok {
		return empty(s, SourceFallback)
	}
	log.Info("[Memory/Chain] Served from fallback cache",
		"items", len(cached),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return UserMemory{
		TenantID: s.TenantID(),
		UserID:   s.UserID(),
		Items:    cached,
		Source:   SourceFallback,
	}
}

// Remember 写入一条记忆到主服务，并刷新缓存快照
func (c *Chain) Remember(ctx context.Context, s scope.TenantScope, text string, relevance float64) (Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, fmt.Errorf("%w: text is required", ErrInvalidItem)
	}
	if math.IsNaN(relevance) || relevance < 0 || relevance > 1 {
		return Item{}, fmt.Errorf("%w: relevance_score must be within [0, 1]", ErrInvalidItem)
	}
	if c.primary == nil {
		return Item{}, fmt.Errorf("%w: not configured", ErrPrimaryUnavailable)
	}

	item := Item{
		ID:             uuid.NewString(),
		Text:           text,
		RelevanceScore: relevance,
		Timestamp:      time.Now().UTC(),
	}
	saved, err := c.primary.Append(ctx, s, item)
	if err != nil {
		applog.Ctx(ctx).Error("[Memory/Chain] Remember failed", "error", err)
		return Item{}, fmt.Errorf("%w: %v", ErrPrimaryUnavailable, err)
	}

	// 重新读取一次，让缓存与主服务排序一致
	if items, err := c.tryPrimary(ctx, s); err == nil {
		c.refreshCache(s, items)
	}
	return saved, nil
}

func (c *Chain) tryPrimary(ctx context.Context, s scope.TenantScope) ([]Item, error) {
	if c.primary == nil {
		return nil, fmt.Errorf("%w: not configured", ErrPrimaryUnavailable)
	}

	pctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.PrimaryTimeoutMs)*time.Millisecond)
	defer cancel()

	items, err := c.primary.Fetch(pctx, s, c.config.MaxItems)
	if err == nil && pctx.Err() != nil {
		err = pctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout", ErrPrimaryUnavailable)
		}
		if errors.Is(err, ErrMalformedResponse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPrimaryUnavailable, err)
	}
	if err := validate(items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

func (c *Chain) tryCache(ctx context.Context, s scope.TenantScope) ([]Item, bool) {
	if c.cache == nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.CacheTimeoutMs)*time.Millisecond)
	defer cancel()

	items, ok, err := c.cache.Load(cctx, s)
	if err != nil {
		applog.Ctx(ctx).Warn("[Memory/Chain] Fallback cache unavailable", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if items == nil {
		items = []Item{}
	}
	return items, true
}

// refreshCache 异步回写缓存，使用独立 context 不受请求取消影响
func (c *Chain) refreshCache(s scope.TenantScope, items []Item) {
	if c.cache == nil {
		return
	}
	snapshot := append([]Item(nil), items...)
	c.writeThrough(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.cache.Store(ctx, s, snapshot); err != nil {
			applog.Warn("[Memory/Chain] Cache write-through failed", append(s.LogArgs(), "error", err)...)
		}
	})
}
