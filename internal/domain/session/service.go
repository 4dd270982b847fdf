package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	"recallweave/internal/metrics"
	applog "recallweave/internal/platform/log"
)

// maxQueryRunes 单条被打断查询的最大长度
const maxQueryRunes = 2048

// MemoryLoader 读取用户记忆（由 memory.Chain 实现）
type MemoryLoader interface {
	GetUserMemory(ctx context.Context, s scope.TenantScope) memory.UserMemory
}

// Greeting 识别回访用户后生成的问候
type Greeting struct {
	Text             string   `json:"text"`
	Returning        bool     `json:"returning"`
	PendingQueries   []string `json:"pending_queries,omitempty"`
	MemoryHighlights []string `json:"memory_highlights,omitempty"`
}

// Service 会话上下文服务
type Service struct {
	store  Store
	memory MemoryLoader // 可为 nil
	now    func() time.Time
}

// NewService 创建会话服务
func NewService(store Store, mem MemoryLoader) *Service {
	return &Service{
		store:  store,
		memory: mem,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordInterruption 记录被打断的查询：有序追加并刷新 TTL，并发调用不丢失
func (svc *Service) RecordInterruption(ctx context.Context, s scope.TenantScope, query string) error {
	if _, err := s.SessionKey(""); err != nil {
		return err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrQueryRequired
	}
	if utf8.RuneCountInString(query) > maxQueryRunes {
		query = string([]rune(query)[:maxQueryRunes])
	}

	err := svc.store.AppendInterruption(ctx, s, query, svc.now())
	metrics.SessionOpsTotal.WithLabelValues("record_interruption", metrics.Status(err)).Inc()
	if err != nil {
		applog.Ctx(ctx).Error("[Session] Record interruption failed", "error", err)
		return storeErr("append", err)
	}
	applog.Ctx(ctx).Info("[Session] Interruption recorded", "query_length", len(query))
	return nil
}

// Resume 返回会话快照，不存在时返回 (nil, nil)
func (svc *Service) Resume(ctx context.Context, s scope.TenantScope) (*Context, error) {
	if _, err := s.SessionKey(""); err != nil {
		return nil, err
	}
	sc, err := svc.store.Load(ctx, s)
	metrics.SessionOpsTotal.WithLabelValues("resume", metrics.Status(err)).Inc()
	if err != nil {
		return nil, storeErr("load", err)
	}
	return sc, nil
}

// UpdateSummary 覆盖会话摘要，最后一次写入生效
func (svc *Service) UpdateSummary(ctx context.Context, s scope.TenantScope, summary string) error {
	if _, err := s.SessionKey(""); err != nil {
		return err
	}
	err := svc.store.SetSummary(ctx, s, strings.TrimSpace(summary), svc.now())
	metrics.SessionOpsTotal.WithLabelValues("update_summary", metrics.Status(err)).Inc()
	if err != nil {
		return storeErr("set_summary", err)
	}
	return nil
}

// Clear 结束会话
func (svc *Service) Clear(ctx context.Context, s scope.TenantScope) error {
	if _, err := s.SessionKey(""); err != nil {
		return err
	}
	err := svc.store.Delete(ctx, s)
	metrics.SessionOpsTotal.WithLabelValues("clear", metrics.Status(err)).Inc()
	if err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// RecognizeUser 结合用户记忆与会话上下文生成问候。
// 会话读取失败时退化为仅基于记忆的问候；scope 无 session 时同样只看记忆
func (svc *Service) RecognizeUser(ctx context.Context, s scope.TenantScope) (Greeting, error) {
	if s.IsZero() {
		return Greeting{}, scope.ErrMissingScope
	}

	var (
		wg  sync.WaitGroup
		sc  *Context
		mem memory.UserMemory
	)

	if s.HasSession() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loaded, err := svc.store.Load(ctx, s)
			if err != nil {
				applog.Ctx(ctx).Warn("[Session] Load for recognition failed", "error", err)
				return
			}
			sc = loaded
		}()
	}
	if svc.memory != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mem = svc.memory.GetUserMemory(ctx, s)
		}()
	}
	wg.Wait()

	g := BuildGreeting(sc, mem)
	metrics.SessionOpsTotal.WithLabelValues("recognize", "ok").Inc()
	applog.Ctx(ctx).Info("[Session] User recognized",
		"returning", g.Returning,
		"pending", len(g.PendingQueries),
		"memory_source", mem.Source,
	)
	return g, nil
}

// BuildGreeting 纯函数：优先提示被打断的查询，其次记忆，再次会话摘要
func BuildGreeting(sc *Context, mem memory.UserMemory) Greeting {
	g := Greeting{
		MemoryHighlights: mem.Highlights(3),
	}
	if len(g.MemoryHighlights) == 0 {
		g.MemoryHighlights = nil
	}
	if sc != nil {
		g.PendingQueries = append([]string(nil), sc.InterruptedQueries...)
	}
	g.Returning = sc != nil || !mem.IsEmpty()

	switch {
	case len(g.PendingQueries) > 0:
		last, _ := sc.LastInterrupted()
		g.Text = fmt.Sprintf("Welcome back! Last time you asked about %q. Shall we pick up where we left off?", last)
	case len(g.MemoryHighlights) > 0:
		g.Text = fmt.Sprintf("Welcome back! I remember: %s.", strings.TrimRight(g.MemoryHighlights[0], "."))
	case sc != nil && sc.ConversationSummary != "":
		g.Text = fmt.Sprintf("Welcome back! Last time we talked about: %s", sc.ConversationSummary)
	default:
		g.Text = "Hello! How can I help you today?"
	}
	return g
}
