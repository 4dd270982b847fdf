package search

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"recallweave/internal/domain/scope"
	"recallweave/internal/metrics"
	applog "recallweave/internal/platform/log"
)

var tracer = otel.Tracer("recallweave/search")

// Outcome 一次编排的结果
type Outcome struct {
	Tier       Tier
	Candidates []Candidate // 向量候选在前，关键词候选在后，各自保持来源内顺序
	Failures   []Failure
	Elapsed    time.Duration
}

// Orchestrator 分层检索编排器：并行调用向量与关键词后端，
// 在预算内汇合，并根据存活的后端决定降级层级
type Orchestrator struct {
	vector  Adapter // 可为 nil
	keyword Adapter // 可为 nil
	config  *Config
}

// NewOrchestrator 创建编排器，适配器会被 Bound 包装
func NewOrchestrator(vector, keyword Adapter, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	config.Normalize()
	return &Orchestrator{
		vector:  Bound(vector, config.AdapterTimeout()),
		keyword: Bound(keyword, config.AdapterTimeout()),
		config:  config,
	}
}

// Config 返回编排配置
func (o *Orchestrator) Config() *Config { return o.config }

type adapterResult struct {
	source     Source
	candidates []Candidate
	err        error
}

// Run 执行分层检索。
// 两个后端都失败时返回 TierFailed 和空候选，不返回错误；
// 只有 ctx 在进入前已取消才返回 ctx.Err()
func (o *Orchestrator) Run(ctx context.Context, s scope.TenantScope, q Query, topK int) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "search.orchestrate")
	defer span.End()

	start := time.Now()
	fetchK := o.config.FetchK(o.config.ClampTopK(topK))

	budgetCtx, cancel := context.WithTimeout(ctx, o.config.Budget())
	defer cancel()

	// 缓冲为 1，超时后迟到的结果写入即丢弃，goroutine 不会阻塞
	vectorCh := make(chan adapterResult, 1)
	keywordCh := make(chan adapterResult, 1)

	launch := func(a Adapter, source Source, ch chan<- adapterResult) {
		if a == nil {
			ch <- adapterResult{source: source, err: Unavailable(source, ErrNotConfigured)}
			return
		}
		go func() {
			candidates, err := a.Search(budgetCtx, s, q, fetchK)
			ch <- adapterResult{source: source, candidates: candidates, err: err}
		}()
	}
	launch(o.vector, SourceVector, vectorCh)
	launch(o.keyword, SourceKeyword, keywordCh)

	var vecRes, kwRes *adapterResult
	for vecRes == nil || kwRes == nil {
		select {
		case r := <-vectorCh:
			vecRes = &r
		case r := <-keywordCh:
			kwRes = &r
		case <-budgetCtx.Done():
			if vecRes == nil {
				vecRes = &adapterResult{source: SourceVector, err: Unavailable(SourceVector, ErrDeadlineExceeded)}
			}
			if kwRes == nil {
				kwRes = &adapterResult{source: SourceKeyword, err: Unavailable(SourceKeyword, ErrDeadlineExceeded)}
			}
		}
	}

	outcome := &Outcome{}
	for _, r := range []*adapterResult{vecRes, kwRes} {
		if r.err != nil {
			bu := Unavailable(r.source, r.err)
			outcome.Failures = append(outcome.Failures, Failure{Source: r.source, Reason: bu.Reason})
			metrics.BackendFailuresTotal.WithLabelValues(string(r.source), bu.Reason).Inc()
			applog.Ctx(ctx).Warn("[Search/Orchestrator] Backend unavailable",
				"source", r.source,
				"reason", bu.Reason,
				"error", bu.Err,
			)
			continue
		}
		outcome.Candidates = append(outcome.Candidates, r.candidates...)
	}
	outcome.Tier = resolveTier(vecRes.err == nil, kwRes.err == nil)
	outcome.Elapsed = time.Since(start)

	metrics.SearchDuration.WithLabelValues("orchestrate").Observe(outcome.Elapsed.Seconds())
	span.SetAttributes(
		attribute.String("tier", string(outcome.Tier)),
		attribute.Int("candidates", len(outcome.Candidates)),
		attribute.Int("failures", len(outcome.Failures)),
	)
	if outcome.Tier == TierFailed {
		span.SetStatus(codes.Error, "all search backends failed")
	} else {
		span.SetStatus(codes.Ok, string(outcome.Tier))
	}

	applog.Ctx(ctx).Info("[Search/Orchestrator] Completed",
		"tier", outcome.Tier,
		"vector_count", len(vecRes.candidates),
		"keyword_count", len(kwRes.candidates),
		"elapsed_ms", outcome.Elapsed.Milliseconds(),
	)
	return outcome, nil
}

func resolveTier(vectorOK, keywordOK bool) Tier {
	switch {
	case vectorOK && keywordOK:
		return TierHybrid
	case vectorOK:
		return TierVectorOnly
	case keywordOK:
		return TierKeywordOnly
	default:
		return TierFailed
	}
}

// IsTimeout 失败是否由超时导致
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}
