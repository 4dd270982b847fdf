package search

import "sort"

// Source 候选来源
type Source string

const (
	SourceVector  Source = "VECTOR"
	SourceKeyword Source = "KEYWORD"
	// SourceMemory 仅用于错误归因（记忆服务不参与排序）
	SourceMemory Source = "MEMORY"
)

// Tier 单次检索的降级层级
type Tier string

const (
	TierHybrid      Tier = "HYBRID"
	TierVectorOnly  Tier = "VECTOR_ONLY"
	TierKeywordOnly Tier = "KEYWORD_ONLY"
	TierFailed      Tier = "FAILED"
)

// Degraded 非 HYBRID 即为降级
func (t Tier) Degraded() bool { return t != TierHybrid }

// Query 下发给检索适配器的查询
type Query struct {
	Text string `json:"text"`
	// Expansion 个性化扩展词，仅作为软匹配（不改变召回范围）
	Expansion []string `json:"expansion,omitempty"`
}

// Candidate 单个后端返回的候选段落，只在一次请求内存活
type Candidate struct {
	Source     Source            `json:"source"`
	DocumentID string            `json:"document_id"`
	PassageID  string            `json:"passage_id"`
	RawScore   float64           `json:"raw_score"`
	Snippet    string            `json:"snippet"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// PassageKey 去重键
type PassageKey struct {
	DocumentID string
	PassageID  string
}

func (c Candidate) Key() PassageKey {
	return PassageKey{DocumentID: c.DocumentID, PassageID: c.PassageID}
}

// MergedResult 合并排序后的结果，同一 (document, passage) 只出现一次
type MergedResult struct {
	DocumentID string            `json:"document_id"`
	PassageID  string            `json:"passage_id"`
	FinalScore float64           `json:"final_score"`
	Sources    []Source          `json:"sources"`
	Snippet    string            `json:"snippet"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// HasSource 结果是否由指定来源贡献
func (r MergedResult) HasSource(s Source) bool {
	for _, src := range r.Sources {
		if src == s {
			return true
		}
	}
	return false
}

// SortResults 按 FinalScore 降序，相同分数按 DocumentID、PassageID 升序
func SortResults(results []MergedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.PassageID < b.PassageID
	})
}
