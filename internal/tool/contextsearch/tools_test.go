package contexttool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recallweave/internal/domain/contextsearch"
	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/search"
	"recallweave/internal/domain/session"
	"recallweave/internal/tool"
)

type fakeSearcher struct {
	gotScope scope.TenantScope
	gotReq   contextsearch.Request
}

func (f *fakeSearcher) Search(_ context.Context, s scope.TenantScope, req contextsearch.Request) (*contextsearch.Response, error) {
	f.gotScope, f.gotReq = s, req
	return &contextsearch.Response{
		RequestID: "r1",
		Tier:      search.TierHybrid,
		Results:   []search.MergedResult{{DocumentID: "d1", PassageID: "p1", FinalScore: 1}},
	}, nil
}

type fakeSessions struct {
	recorded []string
	gotScope scope.TenantScope
	context  *session.Context
}

func (f *fakeSessions) RecordInterruption(_ context.Context, s scope.TenantScope, q string) error {
	if !s.HasSession() {
		_, err := s.SessionKey("")
		return err
	}
	f.gotScope = s
	f.recorded = append(f.recorded, q)
	return nil
}

func (f *fakeSessions) Resume(_ context.Context, s scope.TenantScope) (*session.Context, error) {
	f.gotScope = s
	return f.context, nil
}

func (f *fakeSessions) RecognizeUser(_ context.Context, s scope.TenantScope) (session.Greeting, error) {
	return session.Greeting{Text: "Welcome back!", Returning: true}, nil
}

type fakeRememberer struct{ relevance float64 }

func (f *fakeRememberer) Remember(_ context.Context, _ scope.TenantScope, text string, relevance float64) (memory.Item, error) {
	f.relevance = relevance
	return memory.Item{ID: "m1", Text: text, RelevanceScore: relevance, Timestamp: time.Now()}, nil
}

func authed(t *testing.T, sessionID string) context.Context {
	t.Helper()
	s, err := scope.New("acme", "u1", sessionID)
	require.NoError(t, err)
	return scope.WithScope(context.Background(), s)
}

func newRegistry() (*tool.Registry, *fakeSearcher, *fakeSessions, *fakeRememberer) {
	reg := tool.NewRegistry()
	searcher := &fakeSearcher{}
	sessions := &fakeSessions{}
	rememberer := &fakeRememberer{}
	Register(reg, searcher, sessions, rememberer)
	return reg, searcher, sessions, rememberer
}

func TestRegister_Definitions(t *testing.T) {
	reg, _, _, _ := newRegistry()

	var names []string
	for _, d := range reg.Definitions() {
		assert.Equal(t, "function", d.Type)
		names = append(names, d.Function.Name)
	}
	assert.Equal(t, []string{"context_search", "recognize_user", "record_interruption", "remember", "resume_session"}, names)

	partial := tool.NewRegistry()
	Register(partial, nil, nil, &fakeRememberer{})
	assert.True(t, partial.Has("remember"))
	assert.False(t, partial.Has("context_search"))
}

func TestSearchTool_UsesScopeAndSessionOverride(t *testing.T) {
	reg, searcher, _, _ := newRegistry()

	out, err := reg.Execute(authed(t, "s1"), "context_search", `{"query":"refund policy","top_k":3,"session_id":"s9"}`)
	require.NoError(t, err)

	assert.Equal(t, "acme", searcher.gotScope.TenantID())
	assert.Equal(t, "s9", searcher.gotScope.SessionID())
	assert.Equal(t, 3, searcher.gotReq.TopK)

	var resp contextsearch.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, search.TierHybrid, resp.Tier)
	assert.Equal(t, "d1", resp.Results[0].DocumentID)
}

func TestTools_RequireScope(t *testing.T) {
	reg, _, _, _ := newRegistry()
	for _, name := range []string{"context_search", "record_interruption", "resume_session", "recognize_user", "remember"} {
		_, err := reg.Execute(context.Background(), name, `{"query":"q","text":"t"}`)
		assert.True(t, errors.Is(err, scope.ErrMissingScope), name)
	}
}

func TestRecordInterruptionTool(t *testing.T) {
	reg, _, sessions, _ := newRegistry()

	_, err := reg.Execute(authed(t, "s1"), "record_interruption", `{"query":"how do I reset my password"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"how do I reset my password"}, sessions.recorded)

	_, err = reg.Execute(authed(t, ""), "record_interruption", `{"query":"q"}`)
	assert.True(t, scope.IsScopeError(err))
}

func TestResumeTool_NotFound(t *testing.T) {
	reg, _, _, _ := newRegistry()
	out, err := reg.Execute(authed(t, "s1"), "resume_session", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":false}`, out)
}

func TestRememberTool_DefaultRelevance(t *testing.T) {
	reg, _, _, rememberer := newRegistry()
	out, err := reg.Execute(authed(t, ""), "remember", `{"text":"prefers email"}`)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rememberer.relevance)
	assert.Contains(t, out, "prefers email")
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg, _, _, _ := newRegistry()
	_, err := reg.Execute(authed(t, ""), "nope", "{}")
	assert.ErrorIs(t, err, tool.ErrToolNotFound)

	_, err = reg.Execute(authed(t, ""), "context_search", "{bad")
	assert.Error(t, err)
}
