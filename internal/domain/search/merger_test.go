package search

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSource(src Source, cs ...Candidate) []Candidate {
	out := make([]Candidate, len(cs))
	for i, c := range cs {
		c.Source = src
		out[i] = c
	}
	return out
}

func TestMerger_RefundPolicyScenario(t *testing.T) {
	var candidates []Candidate
	candidates = append(candidates, withSource(SourceVector, cand("d1", "p1", 0.92), cand("d2", "p4", 0.80))...)
	candidates = append(candidates, withSource(SourceKeyword, cand("d1", "p1", 12.1), cand("d3", "p2", 9.4))...)

	results := NewMerger(nil).Merge(candidates)

	require.Len(t, results, 3)
	assert.Equal(t, "d1", results[0].DocumentID)
	assert.Equal(t, "p1", results[0].PassageID)
	assert.Equal(t, []Source{SourceVector, SourceKeyword}, results[0].Sources)
	assert.Equal(t, "d2", results[1].DocumentID)
	assert.Equal(t, "d3", results[2].DocumentID)
}

func TestMerger_NoLossNoDuplication(t *testing.T) {
	var candidates []Candidate
	candidates = append(candidates, withSource(SourceVector,
		cand("a", "1", 0.5), cand("b", "1", 0.4), cand("c", "1", 0.3), cand("a", "1", 0.2))...)
	candidates = append(candidates, withSource(SourceKeyword,
		cand("a", "1", 7), cand("d", "2", 5), cand("b", "2", 1))...)

	results := NewMerger(nil).Merge(candidates)

	seen := make(map[PassageKey]bool)
	for _, r := range results {
		key := PassageKey{DocumentID: r.DocumentID, PassageID: r.PassageID}
		assert.False(t, seen[key], "duplicate %v", key)
		seen[key] = true
	}
	for _, c := range candidates {
		assert.True(t, seen[c.Key()], "lost %v", c.Key())
	}
	assert.Len(t, results, 5)
}

func TestMerger_DualSourceAtLeastBestSingle(t *testing.T) {
	for _, norm := range []Normalization{NormalizeMinMax, NormalizeRank} {
		t.Run(string(norm), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Normalization = norm
			m := NewMerger(cfg)

			rng := rand.New(rand.NewSource(7))
			for round := 0; round < 50; round++ {
				var candidates []Candidate
				docs := []string{"a", "b", "c", "d", "e"}
				for _, d := range docs {
					if rng.Intn(3) > 0 {
						candidates = append(candidates, Candidate{Source: SourceVector, DocumentID: d, PassageID: "p", RawScore: rng.Float64()})
					}
					if rng.Intn(3) > 0 {
						candidates = append(candidates, Candidate{Source: SourceKeyword, DocumentID: d, PassageID: "p", RawScore: rng.Float64() * 20})
					}
				}
				if len(candidates) == 0 {
					continue
				}

				normalized := m.normalizeBySource(candidates)
				best := make(map[PassageKey]float64)
				for i, c := range candidates {
					if normalized[i] > best[c.Key()] {
						best[c.Key()] = normalized[i]
					}
				}

				for _, r := range m.Merge(candidates) {
					key := PassageKey{DocumentID: r.DocumentID, PassageID: r.PassageID}
					assert.GreaterOrEqual(t, r.FinalScore, best[key])
				}
			}
		})
	}
}

func TestMerger_DualBeatsSingleForEqualRawScores(t *testing.T) {
	candidates := append(
		withSource(SourceVector, cand("x", "1", 0.7), cand("y", "1", 0.7), cand("z", "1", 0.1)),
		withSource(SourceKeyword, cand("x", "1", 4), cand("w", "1", 1))...,
	)
	results := NewMerger(nil).Merge(candidates)

	require.NotEmpty(t, results)
	assert.Equal(t, "x", results[0].DocumentID)

	scores := make(map[string]float64)
	for _, r := range results {
		scores[r.DocumentID] = r.FinalScore
	}
	assert.Greater(t, scores["x"], scores["y"])
}

func TestMerger_DeterministicTieBreak(t *testing.T) {
	candidates := withSource(SourceKeyword,
		cand("b", "2", 5), cand("a", "9", 5), cand("b", "1", 5), cand("a", "10", 5))

	first := NewMerger(nil).Merge(candidates)
	require.Len(t, first, 4)

	got := make([]string, 0, len(first))
	for _, r := range first {
		got = append(got, r.DocumentID+"/"+r.PassageID)
	}
	assert.Equal(t, []string{"a/10", "a/9", "b/1", "b/2"}, got)

	// 打乱输入顺序结果不变
	shuffled := append([]Candidate(nil), candidates...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	assert.Equal(t, first, NewMerger(nil).Merge(shuffled))
}

func TestMerger_Normalization(t *testing.T) {
	candidates := withSource(SourceVector, cand("a", "1", 10), cand("b", "1", 5), cand("c", "1", 0))

	minmax := NewMerger(&Config{Normalization: NormalizeMinMax}).normalizeBySource(candidates)
	assert.InDeltaSlice(t, []float64{1, 0.5, 0}, minmax, 1e-9)

	rank := NewMerger(&Config{Normalization: NormalizeRank}).normalizeBySource(candidates)
	assert.InDeltaSlice(t, []float64{1, 2.0 / 3, 1.0 / 3}, rank, 1e-9)

	single := NewMerger(nil).normalizeBySource(withSource(SourceKeyword, cand("a", "1", 3.3)))
	assert.Equal(t, []float64{1}, single)
}

func TestMerger_SnippetFromStrongestContributor(t *testing.T) {
	vec := Candidate{Source: SourceVector, DocumentID: "d", PassageID: "p", RawScore: 0.1, Snippet: "vector text", Metadata: map[string]string{"title": "v"}}
	vecTop := Candidate{Source: SourceVector, DocumentID: "other", PassageID: "p", RawScore: 0.9}
	kw := Candidate{Source: SourceKeyword, DocumentID: "d", PassageID: "p", RawScore: 2, Snippet: "keyword text", Metadata: map[string]string{"title": "k", "lang": "en"}}

	results := NewMerger(nil).Merge([]Candidate{vec, vecTop, kw})
	var target MergedResult
	for _, r := range results {
		if r.DocumentID == "d" {
			target = r
		}
	}
	assert.Equal(t, "keyword text", target.Snippet)
	assert.Equal(t, map[string]string{"title": "k", "lang": "en"}, target.Metadata)
	assert.True(t, target.HasSource(SourceVector))
	assert.True(t, target.HasSource(SourceKeyword))
}

func TestMerger_Empty(t *testing.T) {
	results := NewMerger(nil).Merge(nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}
