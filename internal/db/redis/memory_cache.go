package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	applog "recallweave/internal/platform/log"
)

// MemoryCache 用户记忆快照缓存（记忆降级链的 fallback）
type MemoryCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// MemoryCacheConfig 记忆缓存配置
type MemoryCacheConfig struct {
	Client    *redis.Client
	KeyPrefix string        // 默认 "mem:v1"
	TTL       time.Duration // 默认 30 分钟
}

type memorySnapshot struct {
	Items    []memory.Item `json:"items"`
	StoredAt time.Time     `json:"stored_at"`
}

// NewMemoryCache 创建记忆缓存
func NewMemoryCache(cfg MemoryCacheConfig) *MemoryCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mem:v1"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &MemoryCache{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}
}

var _ memory.Cache = (*MemoryCache)(nil)

func (c *MemoryCache) key(s scope.TenantScope) string {
	return s.UserKey(c.keyPrefix)
}

// Load 读取快照；key 不存在返回 ok=false，数据损坏视为 miss
func (c *MemoryCache) Load(ctx context.Context, s scope.TenantScope) ([]memory.Item, bool, error) {
	key := c.key(s)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		applog.Debug("[Memory/Cache] MISS", "key", key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get memory snapshot: %w", err)
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		applog.Warn("[Memory/Cache] Snapshot corrupted, treating as miss", "key", key, "error", err)
		return nil, false, nil
	}
	applog.Debug("[Memory/Cache] HIT", "key", key, "items", len(snap.Items), "stored_at", snap.StoredAt)
	return snap.Items, true, nil
}

// Store 覆盖写入快照
func (c *MemoryCache) Store(ctx context.Context, s scope.TenantScope, items []memory.Item) error {
	if items == nil {
		items = []memory.Item{}
	}
	data, err := json.Marshal(memorySnapshot{Items: items, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal memory snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(s), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set memory snapshot: %w", err)
	}
	return nil
}
