package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisdb "recallweave/internal/db/redis"
	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/session"
)

type staticMemory struct{ mem memory.UserMemory }

func (m staticMemory) GetUserMemory(ctx context.Context, s scope.TenantScope) memory.UserMemory {
	return m.mem
}

func newService(t *testing.T, mem session.MemoryLoader) (*session.Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisdb.NewSessionStore(redisdb.SessionStoreConfig{Client: client, TTL: time.Hour})
	return session.NewService(store, mem), mr
}

func mustScope(t *testing.T, tenant, user, sess string) scope.TenantScope {
	t.Helper()
	s, err := scope.New(tenant, user, sess)
	require.NoError(t, err)
	return s
}

func TestRecordInterruptionThenResume(t *testing.T) {
	svc, _ := newService(t, nil)
	s := mustScope(t, "acme", "u1", "s1")
	ctx := context.Background()

	require.NoError(t, svc.RecordInterruption(ctx, s, "how do I reset my password"))

	sc, err := svc.Resume(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, []string{"how do I reset my password"}, sc.InterruptedQueries)
	assert.Equal(t, "acme", sc.TenantID)
	assert.Equal(t, "s1", sc.SessionID)
	assert.False(t, sc.LastUpdated.IsZero())
	assert.Greater(t, sc.TTL, time.Duration(0))

	greeting, err := svc.RecognizeUser(ctx, s)
	require.NoError(t, err)
	assert.True(t, greeting.Returning)
	assert.Contains(t, greeting.Text, "how do I reset my password")
	assert.Equal(t, []string{"how do I reset my password"}, greeting.PendingQueries)
}

func TestResumeAbsentSession(t *testing.T) {
	svc, _ := newService(t, nil)

	sc, err := svc.Resume(context.Background(), mustScope(t, "acme", "u1", "never"))
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestConcurrentInterruptionsNotLost(t *testing.T) {
	svc, _ := newService(t, nil)
	s := mustScope(t, "acme", "u1", "s1")
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- svc.RecordInterruption(ctx, s, fmt.Sprintf("query-%02d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sc, err := svc.Resume(ctx, s)
	require.NoError(t, err)
	require.Len(t, sc.InterruptedQueries, n)

	seen := make(map[string]bool)
	for _, q := range sc.InterruptedQueries {
		seen[q] = true
	}
	assert.Len(t, seen, n)
}

func TestInterruptionOrderPreserved(t *testing.T) {
	svc, _ := newService(t, nil)
	s := mustScope(t, "acme", "u1", "s1")
	ctx := context.Background()

	for _, q := range []string{"first", "second", "third"} {
		require.NoError(t, svc.RecordInterruption(ctx, s, q))
	}
	sc, err := svc.Resume(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, sc.InterruptedQueries)
}

func TestSessionIsolation(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.RecordInterruption(ctx, mustScope(t, "acme", "u1", "s1"), "acme secret"))

	for _, other := range []scope.TenantScope{
		mustScope(t, "globex", "u1", "s1"),
		mustScope(t, "acme", "u2", "s1"),
		mustScope(t, "acme", "u1", "s2"),
	} {
		sc, err := svc.Resume(ctx, other)
		require.NoError(t, err)
		assert.Nil(t, sc, "scope %s must not see another scope's session", other)
	}
}

func TestSummaryLastWriteWins(t *testing.T) {
	svc, _ := newService(t, nil)
	s := mustScope(t, "acme", "u1", "s1")
	ctx := context.Background()

	require.NoError(t, svc.UpdateSummary(ctx, s, "talked about refunds"))
	require.NoError(t, svc.UpdateSummary(ctx, s, "talked about invoices"))

	sc, err := svc.Resume(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "talked about invoices", sc.ConversationSummary)
	assert.Empty(t, sc.InterruptedQueries)
}

func TestSessionExpires(t *testing.T) {
	svc, mr := newService(t, nil)
	s := mustScope(t, "acme", "u1", "s1")
	ctx := context.Background()

	require.NoError(t, svc.RecordInterruption(ctx, s, "pending"))
	mr.FastForward(2 * time.Hour)

	sc, err := svc.Resume(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestClear(t *testing.T) {
	svc, _ := newService(t, nil)
	s := mustScope(t, "acme", "u1", "s1")
	ctx := context.Background()

	require.NoError(t, svc.RecordInterruption(ctx, s, "pending"))
	require.NoError(t, svc.Clear(ctx, s))

	sc, err := svc.Resume(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestOperationsRequireSession(t *testing.T) {
	svc, _ := newService(t, nil)
	s := mustScope(t, "acme", "u1", "")
	ctx := context.Background()

	assert.True(t, scope.IsScopeError(svc.RecordInterruption(ctx, s, "q")))
	_, err := svc.Resume(ctx, s)
	assert.True(t, scope.IsScopeError(err))
	assert.True(t, scope.IsScopeError(svc.UpdateSummary(ctx, s, "x")))
	assert.True(t, scope.IsScopeError(svc.Clear(ctx, s)))

	assert.ErrorIs(t, svc.RecordInterruption(ctx, mustScope(t, "acme", "u1", "s1"), "  "), session.ErrQueryRequired)
}

func TestStoreFailureIsTyped(t *testing.T) {
	svc, mr := newService(t, nil)
	s := mustScope(t, "acme", "u1", "s1")
	mr.Close()

	err := svc.RecordInterruption(context.Background(), s, "q")
	var se *session.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "append", se.Op)

	_, err = svc.Resume(context.Background(), s)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "load", se.Op)
}

func TestRecognizeUserFromMemoryOnly(t *testing.T) {
	mem := memory.UserMemory{
		Source: memory.SourcePrimary,
		Items:  []memory.Item{{Text: "you prefer email updates", RelevanceScore: 0.9, Timestamp: time.Now()}},
	}
	svc, _ := newService(t, staticMemory{mem: mem})

	g, err := svc.RecognizeUser(context.Background(), mustScope(t, "acme", "u1", ""))
	require.NoError(t, err)
	assert.True(t, g.Returning)
	assert.Contains(t, g.Text, "you prefer email updates")
	assert.Equal(t, []string{"you prefer email updates"}, g.MemoryHighlights)
	assert.Empty(t, g.PendingQueries)
}

func TestRecognizeUserDegradesWhenStoreDown(t *testing.T) {
	svc, mr := newService(t, staticMemory{})
	mr.Close()

	g, err := svc.RecognizeUser(context.Background(), mustScope(t, "acme", "u1", "s1"))
	require.NoError(t, err)
	assert.False(t, g.Returning)
	assert.Equal(t, "Hello! How can I help you today?", g.Text)
}

func TestBuildGreeting(t *testing.T) {
	tests := []struct {
		name     string
		sc       *session.Context
		mem      memory.UserMemory
		contains string
	}{
		{name: "new user", contains: "How can I help"},
		{name: "summary only", sc: &session.Context{ConversationSummary: "shipping delays"}, contains: "shipping delays"},
		{name: "pending wins over memory",
			sc:       &session.Context{InterruptedQueries: []string{"old", "latest question"}},
			mem:      memory.UserMemory{Items: []memory.Item{{Text: "likes cats"}}},
			contains: "latest question"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := session.BuildGreeting(tt.sc, tt.mem)
			assert.Contains(t, g.Text, tt.contains)
		})
	}
}
