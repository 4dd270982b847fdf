package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"recallweave/internal/domain/contextsearch"
	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/search"
	applog "recallweave/internal/platform/log"
)

// ResultCache 检索响应 Redis 缓存
// key = {prefix}:tenant:{t}:user:{u}[:session:{s}]:{hash(query+expansion+topK)}
type ResultCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewResultCache 创建检索缓存
func NewResultCache(rdb *redis.Client, ttlSeconds int) *ResultCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &ResultCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "search:v1",
	}
}

var _ contextsearch.ResultCache = (*ResultCache)(nil)

// Get 从缓存获取检索响应
func (c *ResultCache) Get(ctx context.Context, s scope.TenantScope, q search.Query, topK int) (*contextsearch.Response, bool) {
	key := c.cacheKey(s, q, topK)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var resp contextsearch.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		applog.Warn("[Search/Cache] Failed to unmarshal cached response", "error", err)
		return nil, false
	}

	applog.Debug("[Search/Cache] Hit", "key", key)
	return &resp, true
}

// Set 写入检索响应
func (c *ResultCache) Set(ctx context.Context, s scope.TenantScope, q search.Query, topK int, resp *contextsearch.Response) {
	key := c.cacheKey(s, q, topK)
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		applog.Warn("[Search/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateTenant 清除某个租户的全部缓存（文档更新后调用）
func (c *ResultCache) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	return c.deleteByPattern(ctx, c.prefix+":tenant:"+tenantID+":*")
}

// InvalidateAll 清除所有检索缓存
func (c *ResultCache) InvalidateAll(ctx context.Context) (int, error) {
	return c.deleteByPattern(ctx, c.prefix+":*")
}

func (c *ResultCache) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	iter := c.redis.Scan(ctx, 0, pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan %q: %w", pattern, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	applog.Info("[Search/Cache] Invalidated", "pattern", pattern, "keys_deleted", len(keys))
	return len(keys), nil
}

// cacheKey scope 部分明文保留便于按租户失效，查询部分取 hash
func (c *ResultCache) cacheKey(s scope.TenantScope, q search.Query, topK int) string {
	terms := make([]string, len(q.Expansion))
	copy(terms, q.Expansion)
	sort.Strings(terms)

	raw := fmt.Sprintf("%s|%s|%d", q.Text, strings.Join(terms, ","), topK)
	hash := sha256.Sum256([]byte(raw))
	return s.Key(c.prefix, fmt.Sprintf("%x", hash[:12]))
}
