package contextsearch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/search"
	"recallweave/internal/domain/session"
	"recallweave/internal/metrics"
)

type stubAdapter struct {
	source     search.Source
	delay      time.Duration
	err        error
	candidates []search.Candidate

	mu        sync.Mutex
	lastQuery search.Query
}

func (a *stubAdapter) Source() search.Source { return a.source }

func (a *stubAdapter) Search(ctx context.Context, s scope.TenantScope, q search.Query, topK int) ([]search.Candidate, error) {
	a.mu.Lock()
	a.lastQuery = q
	a.mu.Unlock()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.err != nil {
		return nil, a.err
	}
	return append([]search.Candidate(nil), a.candidates...), nil
}

func (a *stubAdapter) query() search.Query {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastQuery
}

type stubSessions struct {
	mu       sync.Mutex
	ctx      *session.Context
	err      error
	recorded []string
}

func (s *stubSessions) Resume(ctx context.Context, sc scope.TenantScope) (*session.Context, error) {
	return s.ctx, s.err
}

func (s *stubSessions) RecordInterruption(ctx context.Context, sc scope.TenantScope, q string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, q)
	return nil
}

type stubMemory struct{ mem memory.UserMemory }

func (m stubMemory) GetUserMemory(ctx context.Context, s scope.TenantScope) memory.UserMemory {
	return m.mem
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]*Response
}

func (c *mapCache) key(s scope.TenantScope, q search.Query) string { return s.Key("t") + "|" + q.Text }

func (c *mapCache) Get(ctx context.Context, s scope.TenantScope, q search.Query, topK int) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.data[c.key(s, q)]
	return r, ok
}

func (c *mapCache) Set(ctx context.Context, s scope.TenantScope, q search.Query, topK int, resp *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[c.key(s, q)] = resp
}

func refundAdapters() (*stubAdapter, *stubAdapter) {
	vec := &stubAdapter{source: search.SourceVector, candidates: []search.Candidate{
		{DocumentID: "d1", PassageID: "p1", RawScore: 0.92, Snippet: "Refunds are issued within 14 days"},
		{DocumentID: "d2", PassageID: "p4", RawScore: 0.80, Snippet: "Store credit policy"},
	}}
	kw := &stubAdapter{source: search.SourceKeyword, candidates: []search.Candidate{
		{DocumentID: "d1", PassageID: "p1", RawScore: 12.1, Snippet: "Refunds are issued within 14 days"},
		{DocumentID: "d3", PassageID: "p2", RawScore: 9.4, Snippet: "Invoice corrections"},
	}}
	return vec, kw
}

func newEngine(vec, kw search.Adapter) *Engine {
	cfg := search.DefaultConfig()
	cfg.BudgetMs = 200
	cfg.AdapterTimeoutMs = 200
	e := NewEngine(search.NewOrchestrator(vec, kw, cfg), search.NewMerger(cfg), DefaultConfig())
	e.cacheWrite = func(fn func()) { fn() }
	return e
}

func mustScope(t *testing.T, tenant, user, sess string) scope.TenantScope {
	t.Helper()
	s, err := scope.New(tenant, user, sess)
	require.NoError(t, err)
	return s
}

func TestEngine_RefundPolicyHybrid(t *testing.T) {
	vec, kw := refundAdapters()
	e := newEngine(vec, kw)

	resp, err := e.Search(context.Background(), mustScope(t, "acme", "u1", ""), Request{Query: "refund policy", TopK: 10})
	require.NoError(t, err)

	assert.Equal(t, search.TierHybrid, resp.Tier)
	assert.False(t, resp.Degraded)
	assert.False(t, resp.PersonalizationApplied)
	assert.NotEmpty(t, resp.RequestID)
	require.Len(t, resp.Results, 3)
	top := resp.Results[0]
	assert.Equal(t, "d1", top.DocumentID)
	assert.Equal(t, "p1", top.PassageID)
	assert.True(t, top.HasSource(search.SourceVector))
	assert.True(t, top.HasSource(search.SourceKeyword))
}

func TestEngine_VectorTimeoutKeywordOnly(t *testing.T) {
	vec, kw := refundAdapters()
	vec.delay = 210 * time.Millisecond
	kw.delay = 40 * time.Millisecond
	e := newEngine(vec, kw)

	resp, err := e.Search(context.Background(), mustScope(t, "acme", "u1", ""), Request{Query: "refund policy"})
	require.NoError(t, err)

	assert.Equal(t, search.TierKeywordOnly, resp.Tier)
	assert.True(t, resp.Degraded)
	for _, r := range resp.Results {
		assert.Equal(t, []search.Source{search.SourceKeyword}, r.Sources)
	}
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, search.SourceVector, resp.Failures[0].Source)
}

func TestEngine_BothFailEmptySuccess(t *testing.T) {
	vec := &stubAdapter{source: search.SourceVector, err: errors.New("down")}
	kw := &stubAdapter{source: search.SourceKeyword, err: errors.New("down")}

	resp, err := newEngine(vec, kw).Search(context.Background(), mustScope(t, "acme", "u1", ""), Request{Query: "refund policy"})
	require.NoError(t, err)
	assert.Equal(t, search.TierFailed, resp.Tier)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestEngine_InvalidInput(t *testing.T) {
	vec, kw := refundAdapters()
	e := newEngine(vec, kw)

	_, err := e.Search(context.Background(), mustScope(t, "acme", "u1", ""), Request{Query: "   "})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	long := make([]rune, MaxQueryRunes+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = e.Search(context.Background(), mustScope(t, "acme", "u1", ""), Request{Query: string(long)})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = e.Search(context.Background(), scope.TenantScope{}, Request{Query: "q"})
	assert.True(t, scope.IsScopeError(err))
}

func TestEngine_PersonalizationFromMemoryAndSession(t *testing.T) {
	vec := &stubAdapter{source: search.SourceVector, candidates: []search.Candidate{
		{DocumentID: "a", PassageID: "1", RawScore: 0.5, Snippet: "Generic refund steps"},
		{DocumentID: "b", PassageID: "1", RawScore: 0.5, Snippet: "Refund to invoice billing account"},
	}}
	kw := &stubAdapter{source: search.SourceKeyword}
	e := newEngine(vec, kw)
	e.SetPersonalizer(NewTermPersonalizer(DefaultTermPersonalizerConfig()))
	e.SetMemory(stubMemory{mem: memory.UserMemory{
		Source: memory.SourcePrimary,
		Items:  []memory.Item{{Text: "pays by invoice", RelevanceScore: 0.9, Timestamp: time.Now()}},
	}})
	sessions := &stubSessions{ctx: &session.Context{ConversationSummary: "billing questions"}}
	e.SetSessions(sessions)

	resp, err := e.Search(context.Background(), mustScope(t, "acme", "u1", "s1"), Request{Query: "refund"})
	require.NoError(t, err)

	assert.True(t, resp.PersonalizationApplied)
	assert.ElementsMatch(t, []string{"billing", "questions", "pays", "invoice"}, kw.query().Expansion)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].DocumentID, "snippet matching personal terms ranks first")
}

func TestEngine_PersonalizationSkippedWithoutSignals(t *testing.T) {
	vec, kw := refundAdapters()
	e := newEngine(vec, kw)
	e.SetPersonalizer(NewTermPersonalizer(DefaultTermPersonalizerConfig()))
	e.SetMemory(stubMemory{mem: memory.UserMemory{Source: memory.SourceFallback, Items: []memory.Item{}}})
	e.SetSessions(&stubSessions{err: errors.New("redis down")})

	resp, err := e.Search(context.Background(), mustScope(t, "acme", "u1", "s1"), Request{Query: "refund policy"})
	require.NoError(t, err)
	assert.False(t, resp.PersonalizationApplied)
	assert.Empty(t, kw.query().Expansion)
	assert.Equal(t, search.TierHybrid, resp.Tier)
}

func TestEngine_RecordsInterruption(t *testing.T) {
	vec, kw := refundAdapters()
	e := newEngine(vec, kw)
	sessions := &stubSessions{}
	e.SetSessions(sessions)

	_, err := e.Search(context.Background(), mustScope(t, "acme", "u1", "s1"), Request{Query: " how do I reset my password ", Interrupted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"how do I reset my password"}, sessions.recorded)

	// 无 session 的 scope 忽略打断标记
	_, err = e.Search(context.Background(), mustScope(t, "acme", "u1", ""), Request{Query: "other", Interrupted: true})
	require.NoError(t, err)
	assert.Len(t, sessions.recorded, 1)
}

func TestEngine_CachesOnlyHybrid(t *testing.T) {
	vec, kw := refundAdapters()
	e := newEngine(vec, kw)
	cache := &mapCache{data: make(map[string]*Response)}
	e.SetCache(cache)
	s := mustScope(t, "acme", "u1", "")

	first, err := e.Search(context.Background(), s, Request{Query: "refund policy"})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	require.Len(t, cache.data, 1)

	second, err := e.Search(context.Background(), s, Request{Query: "refund policy"})
	require.NoError(t, err)
	assert.False(t, second.Cached, "healthy searches always return live results")
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.Results, second.Results)

	vec.err = errors.New("down")
	_, err = e.Search(context.Background(), s, Request{Query: "degraded query"})
	require.NoError(t, err)
	assert.Len(t, cache.data, 1, "degraded responses are not cached")
}

func TestEngine_CacheKeepsLiveTier(t *testing.T) {
	vec, kw := refundAdapters()
	e := newEngine(vec, kw)
	e.SetCache(&mapCache{data: make(map[string]*Response)})
	s := mustScope(t, "acme", "u1", "")
	ctx := context.Background()

	warm, err := e.Search(ctx, s, Request{Query: "refund policy"})
	require.NoError(t, err)
	require.Equal(t, search.TierHybrid, warm.Tier)

	t.Run("both backends down", func(t *testing.T) {
		vec.err, kw.err = errors.New("down"), errors.New("down")
		defer func() { vec.err, kw.err = nil, nil }()

		resp, err := e.Search(ctx, s, Request{Query: "refund policy"})
		require.NoError(t, err)
		assert.Equal(t, search.TierFailed, resp.Tier)
		assert.Empty(t, resp.Results)
		assert.True(t, resp.Degraded)
		assert.False(t, resp.Cached)
		assert.Len(t, resp.Failures, 2)
	})

	t.Run("vector down", func(t *testing.T) {
		vec.err = errors.New("down")
		defer func() { vec.err = nil }()

		resp, err := e.Search(ctx, s, Request{Query: "refund policy"})
		require.NoError(t, err)
		assert.Equal(t, search.TierKeywordOnly, resp.Tier)
		assert.True(t, resp.Degraded)
		assert.True(t, resp.Cached)
		require.Len(t, resp.Failures, 1)
		assert.Equal(t, search.SourceVector, resp.Failures[0].Source)
		assert.Equal(t, warm.Results, resp.Results)
	})

	t.Run("vector down without snapshot", func(t *testing.T) {
		vec.err = errors.New("down")
		defer func() { vec.err = nil }()

		resp, err := e.Search(ctx, s, Request{Query: "store credit"})
		require.NoError(t, err)
		assert.Equal(t, search.TierKeywordOnly, resp.Tier)
		assert.False(t, resp.Cached)
		for _, r := range resp.Results {
			assert.Equal(t, []search.Source{search.SourceKeyword}, r.Sources)
		}
	})
}

func TestEngine_RecordsRequestMetrics(t *testing.T) {
	vec, kw := refundAdapters()
	e := newEngine(vec, kw)
	e.SetCache(&mapCache{data: make(map[string]*Response)})
	s := mustScope(t, "acme", "u1", "")

	hybrid := metrics.SearchRequestsTotal.WithLabelValues(string(search.TierHybrid), "false")
	cachedKeyword := metrics.SearchRequestsTotal.WithLabelValues(string(search.TierKeywordOnly), "true")
	hybridBefore := testutil.ToFloat64(hybrid)
	cachedBefore := testutil.ToFloat64(cachedKeyword)

	_, err := e.Search(context.Background(), s, Request{Query: "refund metrics"})
	require.NoError(t, err)
	vec.err = errors.New("down")
	_, err = e.Search(context.Background(), s, Request{Query: "refund metrics"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(hybrid)-hybridBefore)
	assert.Equal(t, 1.0, testutil.ToFloat64(cachedKeyword)-cachedBefore)
}

func TestEngine_TopKTruncation(t *testing.T) {
	vec, kw := refundAdapters()
	resp, err := newEngine(vec, kw).Search(context.Background(), mustScope(t, "acme", "u1", ""), Request{Query: "refund", TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "d1", resp.Results[0].DocumentID)
}
