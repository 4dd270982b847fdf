package search

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"recallweave/internal/domain/scope"
)

// fakeAdapter 可控延迟 / 错误的测试适配器，按 tenant 提供独立语料
type fakeAdapter struct {
	source    Source
	delay     time.Duration
	ignoreCtx bool // 模拟不响应取消的后端
	err       error
	corpus    map[string][]Candidate // tenant_id -> candidates
	calls     atomic.Int32
	lastQuery atomic.Value
}

func newFake(source Source, tenant string, candidates ...Candidate) *fakeAdapter {
	return &fakeAdapter{
		source: source,
		corpus: map[string][]Candidate{tenant: candidates},
	}
}

func (f *fakeAdapter) Source() Source { return f.source }

func (f *fakeAdapter) Search(ctx context.Context, s scope.TenantScope, q Query, topK int) ([]Candidate, error) {
	f.calls.Add(1)
	f.lastQuery.Store(q)

	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	src := f.corpus[s.TenantID()]
	out := make([]Candidate, 0, len(src))
	for _, c := range src {
		c.Source = f.source
		out = append(out, c)
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out, nil
}

var errBackendDown = errors.New("connection refused")

func cand(doc, passage string, score float64) Candidate {
	return Candidate{DocumentID: doc, PassageID: passage, RawScore: score, Snippet: doc + "/" + passage}
}
