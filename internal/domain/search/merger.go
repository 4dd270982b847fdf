package search

// Merger 合并多来源候选：来源内归一化、按 (document, passage) 去重、
// 双来源命中乘性加成、确定性排序
type Merger struct {
	normalization Normalization
	hybridBoost   float64
}

// NewMerger 创建合并器
func NewMerger(config *Config) *Merger {
	if config == nil {
		config = DefaultConfig()
	}
	config.Normalize()
	return &Merger{
		normalization: config.Normalization,
		hybridBoost:   config.HybridBoost,
	}
}

type contribution struct {
	score    float64
	snippet  string
	metadata map[string]string
}

type mergeEntry struct {
	key     PassageKey
	bySrc   map[Source]*contribution
	srcList []Source // 首次出现顺序
}

// Merge 纯函数，不修改入参
func (m *Merger) Merge(candidates []Candidate) []MergedResult {
	if len(candidates) == 0 {
		return []MergedResult{}
	}

	normalized := m.normalizeBySource(candidates)

	entries := make(map[PassageKey]*mergeEntry)
	var order []PassageKey
	for i, c := range candidates {
		key := c.Key()
		e, ok := entries[key]
		if !ok {
			e = &mergeEntry{key: key, bySrc: make(map[Source]*contribution, 2)}
			entries[key] = e
			order = append(order, key)
		}
		score := normalized[i]
		if prev, ok := e.bySrc[c.Source]; ok {
			// 同一来源重复返回同一段落，保留分数更高的一次
			if score > prev.score {
				prev.score = score
				prev.snippet = c.Snippet
				prev.metadata = c.Metadata
			}
			continue
		}
		e.bySrc[c.Source] = &contribution{score: score, snippet: c.Snippet, metadata: c.Metadata}
		e.srcList = append(e.srcList, c.Source)
	}

	results := make([]MergedResult, 0, len(order))
	for _, key := range order {
		results = append(results, m.combine(entries[key]))
	}
	SortResults(results)
	return results
}

func (m *Merger) combine(e *mergeEntry) MergedResult {
	var (
		sum  float64
		best *contribution
	)
	sources := orderedSources(e.srcList)
	for _, src := range sources {
		c := e.bySrc[src]
		sum += c.score
		if best == nil || c.score > best.score {
			best = c
		}
	}
	if len(sources) > 1 {
		sum *= m.hybridBoost
	}

	metadata := make(map[string]string)
	if best.metadata != nil {
		for k, v := range best.metadata {
			metadata[k] = v
		}
	}
	for _, src := range sources {
		for k, v := range e.bySrc[src].metadata {
			if _, exists := metadata[k]; !exists {
				metadata[k] = v
			}
		}
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	return MergedResult{
		DocumentID: e.key.DocumentID,
		PassageID:  e.key.PassageID,
		FinalScore: sum,
		Sources:    sources,
		Snippet:    best.snippet,
		Metadata:   metadata,
	}
}

// orderedSources 固定来源顺序：VECTOR 在前
func orderedSources(list []Source) []Source {
	out := make([]Source, 0, len(list))
	for _, want := range []Source{SourceVector, SourceKeyword} {
		for _, s := range list {
			if s == want {
				out = append(out, s)
			}
		}
	}
	for _, s := range list {
		if s != SourceVector && s != SourceKeyword {
			out = append(out, s)
		}
	}
	return out
}

// normalizeBySource 返回与 candidates 下标对应的归一化分数，范围 [0, 1]
func (m *Merger) normalizeBySource(candidates []Candidate) []float64 {
	out := make([]float64, len(candidates))
	groups := make(map[Source][]int)
	for i, c := range candidates {
		groups[c.Source] = append(groups[c.Source], i)
	}
	for _, idx := range groups {
		switch m.normalization {
		case NormalizeRank:
			normalizeRank(candidates, idx, out)
		default:
			normalizeMinMax(candidates, idx, out)
		}
	}
	return out
}

func normalizeMinMax(candidates []Candidate, idx []int, out []float64) {
	lo, hi := candidates[idx[0]].RawScore, candidates[idx[0]].RawScore
	for _, i := range idx[1:] {
		s := candidates[i].RawScore
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	span := hi - lo
	for _, i := range idx {
		if span == 0 {
			out[i] = 1
			continue
		}
		out[i] = (candidates[i].RawScore - lo) / span
	}
}

// normalizeRank 按来源内原始分数降序排名：1 - rank/n，并列同分取相同排名
func normalizeRank(candidates []Candidate, idx []int, out []float64) {
	n := float64(len(idx))
	for _, i := range idx {
		rank := 0
		for _, j := range idx {
			if candidates[j].RawScore > candidates[i].RawScore {
				rank++
			}
		}
		out[i] = 1 - float64(rank)/n
	}
}
