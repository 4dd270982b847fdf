package contextsearch

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"recallweave/internal/domain/memory"
	"recallweave/internal/domain/search"
	"recallweave/internal/domain/session"
)

// PersonalContext 单次检索可用的个性化信息，两者都可能缺失
type PersonalContext struct {
	Session *session.Context
	Memory  memory.UserMemory
}

// Plan 个性化计划：Terms 为空表示不做个性化
type Plan struct {
	Terms []string `json:"terms,omitempty"`
}

// Applied 是否有个性化信号参与
func (p Plan) Applied() bool { return len(p.Terms) > 0 }

// Personalizer 可插拔的个性化策略。
// Plan 产出关键词后端的软扩展词，Rerank 必须是单调加成（分数只增不减）
type Personalizer interface {
	Plan(query string, pc PersonalContext) Plan
	Rerank(results []search.MergedResult, plan Plan) []search.MergedResult
}

// TermPersonalizerConfig 关键词个性化配置
type TermPersonalizerConfig struct {
	MaxTerms       int     `json:"max_terms"`
	MaxMemoryItems int     `json:"max_memory_items"`
	Weight         float64 `json:"weight"` // 全部扩展词命中时的最大加成比例
}

// DefaultTermPersonalizerConfig 默认配置
func DefaultTermPersonalizerConfig() TermPersonalizerConfig {
	return TermPersonalizerConfig{
		MaxTerms:       8,
		MaxMemoryItems: 5,
		Weight:         0.1,
	}
}

// TermPersonalizer 从会话摘要、被打断查询、用户记忆中抽取关键词，
// 用于关键词检索的软扩展，并对片段命中这些词的结果做小幅加成
type TermPersonalizer struct {
	config TermPersonalizerConfig
}

// NewTermPersonalizer 创建关键词个性化器
func NewTermPersonalizer(config TermPersonalizerConfig) *TermPersonalizer {
	def := DefaultTermPersonalizerConfig()
	if config.MaxTerms <= 0 {
		config.MaxTerms = def.MaxTerms
	}
	if config.MaxMemoryItems <= 0 {
		config.MaxMemoryItems = def.MaxMemoryItems
	}
	if config.Weight < 0 {
		config.Weight = 0
	}
	return &TermPersonalizer{config: config}
}

// Plan 按 摘要 -> 最近被打断查询 -> 记忆 的顺序收集去重后的词
func (p *TermPersonalizer) Plan(query string, pc PersonalContext) Plan {
	exclude := make(map[string]bool)
	for _, tok := range tokenize(query) {
		exclude[tok] = true
	}

	var sources []string
	if pc.Session != nil {
		sources = append(sources, pc.Session.ConversationSummary)
		qs := pc.Session.InterruptedQueries
		for i := len(qs) - 1; i >= 0; i-- {
			sources = append(sources, qs[i])
		}
	}
	sources = append(sources, pc.Memory.Highlights(p.config.MaxMemoryItems)...)

	var terms []string
	for _, text := range sources {
		for _, tok := range tokenize(text) {
			if exclude[tok] {
				continue
			}
			exclude[tok] = true
			terms = append(terms, tok)
			if len(terms) >= p.config.MaxTerms {
				return Plan{Terms: terms}
			}
		}
	}
	return Plan{Terms: terms}
}

// Rerank FinalScore *= 1 + Weight * 命中词数 / 总词数，再按统一规则排序
func (p *TermPersonalizer) Rerank(results []search.MergedResult, plan Plan) []search.MergedResult {
	if !plan.Applied() || p.config.Weight == 0 || len(results) == 0 {
		return results
	}

	out := make([]search.MergedResult, len(results))
	copy(out, results)
	for i := range out {
		tokens := make(map[string]bool)
		for _, tok := range tokenize(out[i].Snippet) {
			tokens[tok] = true
		}
		matched := 0
		for _, term := range plan.Terms {
			if tokens[term] {
				matched++
			}
		}
		if matched > 0 {
			out[i].FinalScore *= 1 + p.config.Weight*float64(matched)/float64(len(plan.Terms))
		}
	}
	search.SortResults(out)
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "any": true, "can": true, "had": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true, "have": true,
	"his": true, "how": true, "its": true, "may": true, "new": true, "now": true,
	"see": true, "who": true, "did": true, "get": true, "got": true, "him": true,
	"let": true, "she": true, "too": true, "use": true, "what": true, "when": true,
	"where": true, "which": true, "with": true, "this": true, "that": true,
	"from": true, "they": true, "will": true, "would": true, "there": true,
	"their": true, "about": true, "been": true, "were": true, "into": true,
	"more": true, "some": true, "than": true, "then": true, "them": true,
	"these": true, "those": true, "your": true, "yours": true, "also": true,
	"just": true, "like": true, "does": true, "should": true, "could": true,
	"last": true, "time": true, "asked": true, "user": true, "prefers": true,
}

// tokenize 小写、按非字母数字切分，过滤停用词与过短的词
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 3 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
