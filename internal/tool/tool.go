package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Tool 工具接口
type Tool interface {
	// Name 工具名称（唯一标识）
	Name() string

	// Description 工具描述（传给 LLM 作为 function description）
	Description() string

	// Parameters 参数的 JSON Schema（传给 LLM 作为 function parameters）
	Parameters() interface{}

	// Execute 执行工具，arguments 为 LLM 传入的 JSON string
	// 返回结果文本，将作为 tool message 回传给 LLM
	Execute(ctx context.Context, arguments string) (string, error)
}

// ToolDefinition OpenAI function calling 格式的工具定义
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

// ErrToolNotFound 工具未注册
var ErrToolNotFound = errors.New("tool not found")

// Registry 工具注册表
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建工具注册表
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register 注册工具
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
}

// Get 获取工具
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has 检查工具是否存在
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Definitions 返回工具定义，按名称排序
// names 为空时返回所有工具；否则只返回指定名称的工具
func (r *Registry) Definitions(names ...string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, ToolDefinition{
			Type: "function",
			Function: ToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute 执行指定名称的工具
func (r *Registry) Execute(ctx context.Context, name string, arguments string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Execute(ctx, arguments)
}

// --- Context 注入 ---

type contextKey string

const registryContextKey contextKey = "tool_registry"

// WithRegistry 将 ToolRegistry 注入到 context 中
func WithRegistry(ctx context.Context, reg *Registry) context.Context {
	return context.WithValue(ctx, registryContextKey, reg)
}

// RegistryFromContext 从 context 获取 ToolRegistry
func RegistryFromContext(ctx context.Context) (*Registry, bool) {
	reg, ok := ctx.Value(registryContextKey).(*Registry)
	return reg, ok
}
