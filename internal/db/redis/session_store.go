package redisdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/session"
	applog "recallweave/internal/platform/log"
)

// SessionStore Redis 实现的会话存储
// 布局：{prefix}:tenant:..:session:{s}:queries (List) + :meta (Hash)，两个 key 同步过期
type SessionStore struct {
	client     *redis.Client
	keyPrefix  string
	ttl        time.Duration
	maxQueries int
}

// SessionStoreConfig 会话存储配置
type SessionStoreConfig struct {
	Client     *redis.Client
	KeyPrefix  string        // 默认 "sess:v1"
	TTL        time.Duration // 默认 24h
	MaxQueries int           // 保留的被打断查询条数，默认 50
}

// NewSessionStore 创建 Redis 会话存储
func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sess:v1"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = 50
	}
	return &SessionStore{
		client:     cfg.Client,
		keyPrefix:  cfg.KeyPrefix,
		ttl:        cfg.TTL,
		maxQueries: cfg.MaxQueries,
	}
}

var _ session.Store = (*SessionStore)(nil)

func (s *SessionStore) keys(sc scope.TenantScope) (queriesKey, metaKey string, err error) {
	queriesKey, err = sc.SessionKey(s.keyPrefix, "queries")
	if err != nil {
		return "", "", err
	}
	metaKey, err = sc.SessionKey(s.keyPrefix, "meta")
	if err != nil {
		return "", "", err
	}
	return queriesKey, metaKey, nil
}

// AppendInterruption RPUSH + LTRIM + HSET + EXPIRE 放在同一个 MULTI/EXEC 中，
// 并发追加由 Redis 串行化，不会丢失
func (s *SessionStore) AppendInterruption(ctx context.Context, sc scope.TenantScope, query string, at time.Time) error {
	queriesKey, metaKey, err := s.keys(sc)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, queriesKey, query)
		pipe.LTrim(ctx, queriesKey, int64(-s.maxQueries), -1)
		pipe.HSet(ctx, metaKey, "last_updated", strconv.FormatInt(at.UnixMilli(), 10))
		pipe.Expire(ctx, queriesKey, s.ttl)
		pipe.Expire(ctx, metaKey, s.ttl)
		return nil
	})
	if err != nil {
		applog.Error("[Session/Redis] Append failed", append(sc.LogArgs(), "error", err)...)
		return fmt.Errorf("redis append interruption: %w", err)
	}

	applog.Debug("[Session/Redis] Interruption appended", append(sc.LogArgs(), "key", queriesKey)...)
	return nil
}

// SetSummary 覆盖摘要，刷新两个 key 的 TTL
func (s *SessionStore) SetSummary(ctx context.Context, sc scope.TenantScope, summary string, at time.Time) error {
	queriesKey, metaKey, err := s.keys(sc)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey,
			"conversation_summary", summary,
			"last_updated", strconv.FormatInt(at.UnixMilli(), 10),
		)
		pipe.Expire(ctx, metaKey, s.ttl)
		pipe.Expire(ctx, queriesKey, s.ttl)
		return nil
	})
	if err != nil {
		applog.Error("[Session/Redis] Set summary failed", append(sc.LogArgs(), "error", err)...)
		return fmt.Errorf("redis set summary: %w", err)
	}
	return nil
}

// Load 读取会话快照，两个 key 都不存在时返回 (nil, nil)
func (s *SessionStore) Load(ctx context.Context, sc scope.TenantScope) (*session.Context, error) {
	queriesKey, metaKey, err := s.keys(sc)
	if err != nil {
		return nil, err
	}

	var (
		queriesCmd *redis.StringSliceCmd
		metaCmd    *redis.MapStringStringCmd
		ttlCmd     *redis.DurationCmd
	)
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		queriesCmd = pipe.LRange(ctx, queriesKey, 0, -1)
		metaCmd = pipe.HGetAll(ctx, metaKey)
		ttlCmd = pipe.PTTL(ctx, metaKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		applog.Error("[Session/Redis] Load failed", append(sc.LogArgs(), "error", err)...)
		return nil, fmt.Errorf("redis load session: %w", err)
	}

	queries := queriesCmd.Val()
	meta := metaCmd.Val()
	if len(queries) == 0 && len(meta) == 0 {
		return nil, nil
	}

	out := &session.Context{
		TenantID:            sc.TenantID(),
		UserID:              sc.UserID(),
		SessionID:           sc.SessionID(),
		InterruptedQueries:  queries,
		ConversationSummary: meta["conversation_summary"],
	}
	if out.InterruptedQueries == nil {
		out.InterruptedQueries = []string{}
	}
	if raw, ok := meta["last_updated"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			out.LastUpdated = time.UnixMilli(ms).UTC()
		}
	}
	if ttl := ttlCmd.Val(); ttl > 0 {
		out.TTL = ttl
	}
	return out, nil
}

// Delete 删除会话的全部 key
func (s *SessionStore) Delete(ctx context.Context, sc scope.TenantScope) error {
	queriesKey, metaKey, err := s.keys(sc)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, queriesKey, metaKey).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	applog.Info("[Session/Redis] Session cleared", sc.LogArgs()...)
	return nil
}
