package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	applog "recallweave/internal/platform/log"
)

// MemoryStore PostgreSQL 实现的用户记忆主服务
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore 创建 PostgreSQL 记忆存储
func NewMemoryStore(db *sql.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

var _ memory.Primary = (*MemoryStore)(nil)

// EnsureTable 确保 user_memories 表存在
func (m *MemoryStore) EnsureTable(ctx context.Context) error {
	applog.Info("[Memory/PG] Ensuring user_memories table exists...")
	ddl := `
	CREATE TABLE IF NOT EXISTS user_memories (
		id              UUID PRIMARY KEY,
		tenant_id       VARCHAR(128) NOT NULL,
		user_id         VARCHAR(128) NOT NULL,
		text            TEXT NOT NULL,
		relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_user_memories_scope
		ON user_memories(tenant_id, user_id, relevance_score DESC, created_at DESC);
	`
	_, err := m.db.ExecContext(ctx, ddl)
	if err != nil {
		applog.Error("[Memory/PG] ❌ Failed to create table", "error", err)
	} else {
		applog.Info("[Memory/PG] ✅ Table ready")
	}
	return err
}

// Fetch 按相关度、时间倒序读取用户记忆，tenant + user 双条件过滤
func (m *MemoryStore) Fetch(ctx context.Context, s scope.TenantScope, limit int) ([]memory.Item, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, text, relevance_score, created_at
		 FROM user_memories
		 WHERE tenant_id = $1 AND user_id = $2
		 ORDER BY relevance_score DESC, created_at DESC
		 LIMIT $3`,
		s.TenantID(), s.UserID(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pg fetch memories: %w", describe(err))
	}
	defer rows.Close()

	items := make([]memory.Item, 0, limit)
	for rows.Next() {
		var (
			it      memory.Item
			id      uuid.UUID
			created time.Time
		)
		if err := rows.Scan(&id, &it.Text, &it.RelevanceScore, &created); err != nil {
			return nil, fmt.Errorf("pg scan memory: %w", err)
		}
		it.ID = id.String()
		it.Timestamp = created.UTC()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg iterate memories: %w", describe(err))
	}

	applog.Debug("[Memory/PG] Loaded", append(s.LogArgs(), "items", len(items))...)
	return items, nil
}

// Append 写入一条记忆
func (m *MemoryStore) Append(ctx context.Context, s scope.TenantScope, item memory.Item) (memory.Item, error) {
	id, err := uuid.Parse(item.ID)
	if err != nil {
		id = uuid.New()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}

	_, err = m.db.ExecContext(ctx,
		`INSERT INTO user_memories (id, tenant_id, user_id, text, relevance_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, s.TenantID(), s.UserID(), item.Text, item.RelevanceScore, item.Timestamp,
	)
	if err != nil {
		applog.Error("[Memory/PG] ❌ Insert failed", append(s.LogArgs(), "error", err)...)
		return memory.Item{}, fmt.Errorf("pg insert memory: %w", describe(err))
	}

	item.ID = id.String()
	applog.Info("[Memory/PG] 💾 Memory saved", append(s.LogArgs(), "id", item.ID)...)
	return item, nil
}

// describe 附加 PostgreSQL 错误码，便于排查
func describe(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		return fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err)
	}
	return err
}
