package contexttool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"recallweave/internal/domain/contextsearch"
	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/scope"
	"recallweave/internal/domain/session"
	"recallweave/internal/tool"
)

// Searcher 上下文感知检索
type Searcher interface {
	Search(ctx context.Context, s scope.TenantScope, req contextsearch.Request) (*contextsearch.Response, error)
}

// Sessions 会话操作
type Sessions interface {
	RecordInterruption(ctx context.Context, s scope.TenantScope, query string) error
	Resume(ctx context.Context, s scope.TenantScope) (*session.Context, error)
	RecognizeUser(ctx context.Context, s scope.TenantScope) (session.Greeting, error)
}

// Rememberer 写入用户记忆
type Rememberer interface {
	Remember(ctx context.Context, s scope.TenantScope, text string, relevance float64) (memory.Item, error)
}

// Register 注册全部上下文工具，依赖为 nil 的工具不注册
func Register(reg *tool.Registry, searcher Searcher, sessions Sessions, rememberer Rememberer) {
	if searcher != nil {
		reg.Register(&SearchTool{searcher: searcher})
	}
	if sessions != nil {
		reg.Register(
			&RecordInterruptionTool{sessions: sessions},
			&ResumeTool{sessions: sessions},
			&RecognizeUserTool{sessions: sessions},
		)
	}
	if rememberer != nil {
		reg.Register(&RememberTool{rememberer: rememberer})
	}
}

// sessionArgs 大多数工具只需要可选的 session_id
type sessionArgs struct {
	SessionID string `json:"session_id,omitempty"`
}

// scopeFor 从 context 取鉴权 scope，参数中的 session_id 覆盖默认会话
func scopeFor(ctx context.Context, sessionID string) (scope.TenantScope, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return scope.TenantScope{}, err
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		return s.WithSession(sessionID)
	}
	return s, nil
}

func decode(arguments string, v interface{}) error {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sessionParam() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "会话 ID，缺省使用当前会话",
	}
}

// SearchTool context_search
type SearchTool struct {
	searcher Searcher
}

func (t *SearchTool) Name() string { return "context_search" }

func (t *SearchTool) Description() string {
	return "Search the tenant knowledge base with hybrid retrieval, personalized by the current session and user memory."
}

func (t *SearchTool) Parameters() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "检索查询文本",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "返回的最大结果数量",
			},
			"session_id": sessionParam(),
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Query     string `json:"query"`
		TopK      int    `json:"top_k,omitempty"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	s, err := scopeFor(ctx, args.SessionID)
	if err != nil {
		return "", err
	}

	resp, err := t.searcher.Search(ctx, s, contextsearch.Request{Query: args.Query, TopK: args.TopK})
	if err != nil {
		return "", fmt.Errorf("context search failed: %w", err)
	}
	return encode(resp)
}

// RecordInterruptionTool record_interruption
type RecordInterruptionTool struct {
	sessions Sessions
}

func (t *RecordInterruptionTool) Name() string { return "record_interruption" }

func (t *RecordInterruptionTool) Description() string {
	return "Record a user query that was interrupted so it can be resumed later in the same session."
}

func (t *RecordInterruptionTool) Parameters() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "被打断的用户查询",
			},
			"session_id": sessionParam(),
		},
		"required": []string{"query"},
	}
}

func (t *RecordInterruptionTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Query     string `json:"query"`
		SessionID string `json:"session_id,omitempty"`
	}
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	s, err := scopeFor(ctx, args.SessionID)
	if err != nil {
		return "", err
	}
	if err := t.sessions.RecordInterruption(ctx, s, args.Query); err != nil {
		return "", err
	}
	return encode(map[string]bool{"recorded": true})
}

// ResumeTool resume_session
type ResumeTool struct {
	sessions Sessions
}

func (t *ResumeTool) Name() string { return "resume_session" }

func (t *ResumeTool) Description() string {
	return "Load the session context: interrupted queries and the conversation summary."
}

func (t *ResumeTool) Parameters() interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"session_id": sessionParam()},
	}
}

func (t *ResumeTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args sessionArgs
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	s, err := scopeFor(ctx, args.SessionID)
	if err != nil {
		return "", err
	}
	sc, err := t.sessions.Resume(ctx, s)
	if err != nil {
		return "", err
	}
	if sc == nil {
		return encode(map[string]bool{"found": false})
	}
	return encode(sc)
}

// RecognizeUserTool recognize_user
type RecognizeUserTool struct {
	sessions Sessions
}

func (t *RecognizeUserTool) Name() string { return "recognize_user" }

func (t *RecognizeUserTool) Description() string {
	return "Recognize a returning user and produce a greeting that references pending work or remembered facts."
}

func (t *RecognizeUserTool) Parameters() interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"session_id": sessionParam()},
	}
}

func (t *RecognizeUserTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args sessionArgs
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	s, err := scopeFor(ctx, args.SessionID)
	if err != nil {
		return "", err
	}
	greeting, err := t.sessions.RecognizeUser(ctx, s)
	if err != nil {
		return "", err
	}
	return encode(greeting)
}

// RememberTool remember
type RememberTool struct {
	rememberer Rememberer
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Store a durable fact about the user for future personalization."
}

func (t *RememberTool) Parameters() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "需要记住的用户事实",
			},
			"relevance_score": map[string]interface{}{
				"type":        "number",
				"description": "相关度 [0, 1]，默认 0.5",
			},
		},
		"required": []string{"text"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Text           string   `json:"text"`
		RelevanceScore *float64 `json:"relevance_score,omitempty"`
	}
	if err := decode(arguments, &args); err != nil {
		return "", err
	}
	s, err := scope.FromContext(ctx)
	if err != nil {
		return "", err
	}
	relevance := 0.5
	if args.RelevanceScore != nil {
		relevance = *args.RelevanceScore
	}
	item, err := t.rememberer.Remember(ctx, s, args.Text, relevance)
	if err != nil {
		return "", err
	}
	return encode(item)
}
