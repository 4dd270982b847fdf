package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recallweave/internal/domain/scope"
)

// Context 会话上下文快照，过期由存储负责
type Context struct {
	TenantID            string        `json:"tenant_id"`
	UserID              string        `json:"user_id"`
	SessionID           string        `json:"session_id"`
	InterruptedQueries  []string      `json:"interrupted_queries"`
	ConversationSummary string        `json:"conversation_summary,omitempty"`
	LastUpdated         time.Time     `json:"last_updated"`
	TTL                 time.Duration `json:"ttl"`
}

// LastInterrupted 最近一次被打断的查询
func (c *Context) LastInterrupted() (string, bool) {
	if c == nil || len(c.InterruptedQueries) == 0 {
		return "", false
	}
	return c.InterruptedQueries[len(c.InterruptedQueries)-1], true
}

// Store 会话存储（KV，支持原子追加与 TTL）
type Store interface {
	// AppendInterruption 原子追加查询并刷新 TTL
	AppendInterruption(ctx context.Context, s scope.TenantScope, query string, at time.Time) error
	// SetSummary 覆盖会话摘要（last-write-wins）并刷新 TTL
	SetSummary(ctx context.Context, s scope.TenantScope, summary string, at time.Time) error
	// Load 读取会话，不存在返回 (nil, nil)
	Load(ctx context.Context, s scope.TenantScope) (*Context, error)
	// Delete 删除会话
	Delete(ctx context.Context, s scope.TenantScope) error
}

// ErrQueryRequired 追加的查询为空
var ErrQueryRequired = errors.New("session: query text is required")

// StoreError 会话存储读写失败
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
