package contextsearch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/search"
	"recallweave/internal/domain/session"
	"recallweave/internal/metrics"
	applog "recallweave/internal/platform/log"
)

var tracer = otel.Tracer("recallweave/contextsearch")

// MaxQueryRunes 查询最大长度
const MaxQueryRunes = 2048

// Request 上下文检索请求
type Request struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	// Interrupted 调用方标记本次查询被打断，检索后写入会话
	Interrupted bool `json:"interrupted,omitempty"`
}

// Response 上下文检索响应
type Response struct {
	RequestID              string                `json:"request_id"`
	Results                []search.MergedResult `json:"results"`
	Tier                   search.Tier           `json:"tier"`
	PersonalizationApplied bool                  `json:"personalization_applied"`
	Degraded               bool                  `json:"degraded"`
	Failures               []search.Failure      `json:"failures,omitempty"`
	Cached                 bool                  `json:"cached,omitempty"`
	ElapsedMs              int64                 `json:"elapsed_ms"`
}

// SessionService 检索用到的会话操作（由 session.Service 实现）
type SessionService interface {
	Resume(ctx context.Context, s scope.TenantScope) (*session.Context, error)
	RecordInterruption(ctx context.Context, s scope.TenantScope, query string) error
}

// MemoryLoader 读取用户记忆（由 memory.Chain 实现）
type MemoryLoader interface {
	GetUserMemory(ctx context.Context, s scope.TenantScope) memory.UserMemory
}

// ResultCache 检索响应缓存（可选）
type ResultCache interface {
	Get(ctx context.Context, s scope.TenantScope, q search.Query, topK int) (*Response, bool)
	Set(ctx context.Context, s scope.TenantScope, q search.Query, topK int, resp *Response)
}

// Config 门面配置
type Config struct {
	MemoryBudgetMs   int `json:"memory_budget_ms"`
	SessionTimeoutMs int `json:"session_timeout_ms"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MemoryBudgetMs:   100,
		SessionTimeoutMs: 50,
	}
}

// Engine 上下文感知检索门面：
// 并行加载会话与记忆 -> 个性化 -> 分层检索 -> 合并 -> 个性化加成
type Engine struct {
	orchestrator *search.Orchestrator
	merger       *search.Merger
	sessions     SessionService // 可为 nil
	memory       MemoryLoader   // 可为 nil
	personalizer Personalizer   // 可为 nil，nil 即跳过个性化
	cache        ResultCache    // 可为 nil
	config       Config

	// cacheWrite 异步写缓存，测试可替换为同步
	cacheWrite func(fn func())
}

// NewEngine 创建检索门面
func NewEngine(orchestrator *search.Orchestrator, merger *search.Merger, config Config) *Engine {
	def := DefaultConfig()
	if config.MemoryBudgetMs <= 0 {
		config.MemoryBudgetMs = def.MemoryBudgetMs
	}
	if config.SessionTimeoutMs <= 0 {
		config.SessionTimeoutMs = def.SessionTimeoutMs
	}
	return &Engine{
		orchestrator: orchestrator,
		merger:       merger,
		config:       config,
		cacheWrite:   func(fn func()) { go fn() },
	}
}

// SetSessions 设置会话服务
func (e *Engine) SetSessions(s SessionService) { e.sessions = s }

// SetMemory 设置记忆加载器
func (e *Engine) SetMemory(m MemoryLoader) { e.memory = m }

// SetPersonalizer 设置个性化策略
func (e *Engine) SetPersonalizer(p Personalizer) { e.personalizer = p }

// SetCache 设置检索缓存
func (e *Engine) SetCache(c ResultCache) { e.cache = c }

// Search 执行上下文感知检索。
// 只有 scope 非法、查询非法或 ctx 已取消时返回错误；后端全部失败时返回 TierFailed 的空结果
func (e *Engine) Search(ctx context.Context, s scope.TenantScope, req Request) (*Response, error) {
	if s.IsZero() {
		return nil, scope.ErrMissingScope
	}
	query, err := normalizeQuery(req.Query)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "contextsearch.search",
		trace.WithAttributes(attribute.String("tenant_id", s.TenantID())),
	)
	defer span.End()

	start := time.Now()
	requestID := uuid.NewString()
	ctx = applog.WithFields(ctx, "search_request_id", requestID)
	topK := e.orchestrator.Config().ClampTopK(req.TopK)

	pc := e.loadPersonalContext(ctx, s)

	var plan Plan
	if e.personalizer != nil {
		plan = e.personalizer.Plan(query, pc)
	}
	q := search.Query{Text: query, Expansion: plan.Terms}

	outcome, err := e.orchestrator.Run(ctx, s, q, topK)
	if err != nil {
		return nil, err
	}

	results := e.merger.Merge(outcome.Candidates)
	if plan.Applied() {
		results = e.personalizer.Rerank(results, plan)
	}
	if len(results) > topK {
		results = results[:topK]
	}

	resp := &Response{
		RequestID:              requestID,
		Results:                results,
		Tier:                   outcome.Tier,
		PersonalizationApplied: plan.Applied(),
		Degraded:               outcome.Tier.Degraded(),
		Failures:               outcome.Failures,
	}
	e.applyCache(ctx, s, q, topK, resp)
	resp.ElapsedMs = time.Since(start).Milliseconds()

	e.afterSearch(ctx, s, query, req.Interrupted)

	metrics.SearchRequestsTotal.WithLabelValues(string(resp.Tier), strconv.FormatBool(resp.Cached)).Inc()
	metrics.SearchDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("tier", string(resp.Tier)),
		attribute.Int("results", len(resp.Results)),
		attribute.Bool("personalization_applied", resp.PersonalizationApplied),
		attribute.Bool("cached", resp.Cached),
	)
	applog.Ctx(ctx).Info("[ContextSearch] Search completed",
		"tier", resp.Tier,
		"results", len(resp.Results),
		"personalization_applied", resp.PersonalizationApplied,
		"cached", resp.Cached,
		"elapsed_ms", resp.ElapsedMs,
	)
	return resp, nil
}

// applyCache 检索总是先执行，层级与失败信息始终来自本次检索。
// HYBRID 结果写入缓存；单源降级时若有 HYBRID 快照则替换结果并标记 Cached；
// FAILED 保持空结果
func (e *Engine) applyCache(ctx context.Context, s scope.TenantScope, q search.Query, topK int, resp *Response) {
	if e.cache == nil {
		return
	}

	switch resp.Tier {
	case search.TierHybrid:
		snapshot := *resp
		snapshot.Results = append([]search.MergedResult(nil), resp.Results...)
		e.cacheWrite(func() {
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			e.cache.Set(cctx, s, q, topK, &snapshot)
		})
	case search.TierVectorOnly, search.TierKeywordOnly:
		cached, ok := e.cache.Get(ctx, s, q, topK)
		if !ok || cached.Tier != search.TierHybrid || len(cached.Results) == 0 {
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
			return
		}
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		resp.Results = append([]search.MergedResult(nil), cached.Results...)
		resp.Cached = true
		applog.Ctx(ctx).Info("[ContextSearch] Degraded search served cached hybrid results",
			"tier", resp.Tier,
			"results", len(resp.Results),
		)
	}
}

// afterSearch 调用方标记打断时记录查询，失败不影响检索结果
func (e *Engine) afterSearch(ctx context.Context, s scope.TenantScope, query string, interrupted bool) {
	if !interrupted || e.sessions == nil {
		return
	}
	if !s.HasSession() {
		applog.Ctx(ctx).Warn("[ContextSearch] Interrupted flag ignored, scope has no session")
		return
	}
	if err := e.sessions.RecordInterruption(ctx, s, query); err != nil {
		applog.Ctx(ctx).Warn("[ContextSearch] Failed to record interruption", "error", err)
	}
}

// loadPersonalContext 并行加载会话与记忆，任一失败只记录日志
func (e *Engine) loadPersonalContext(ctx context.Context, s scope.TenantScope) PersonalContext {
	var (
		wg sync.WaitGroup
		pc PersonalContext
	)

	if e.sessions != nil && s.HasSession() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.SessionTimeoutMs)*time.Millisecond)
			defer cancel()
			sc, err := e.sessions.Resume(sctx, s)
			if err != nil {
				applog.Ctx(ctx).Warn("[ContextSearch] Session context skipped",
					"error", fmt.Errorf("%w: %v", ErrPersonalizationUnavailable, err))
				return
			}
			pc.Session = sc
		}()
	}

	if e.memory != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.MemoryBudgetMs)*time.Millisecond)
			defer cancel()
			pc.Memory = e.memory.GetUserMemory(mctx, s)
			if pc.Memory.Source == memory.SourceFallback && pc.Memory.IsEmpty() {
				applog.Ctx(ctx).Debug("[ContextSearch] User memory unavailable",
					"error", ErrPersonalizationUnavailable)
			}
		}()
	}

	wg.Wait()
	return pc
}

func normalizeQuery(raw string) (string, error) {
	q := strings.TrimSpace(raw)
	if q == "" {
		return "", fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}
	if utf8.RuneCountInString(q) > MaxQueryRunes {
		return "", fmt.Errorf("%w: query exceeds %d characters", ErrInvalidQuery, MaxQueryRunes)
	}
	return q, nil
}
