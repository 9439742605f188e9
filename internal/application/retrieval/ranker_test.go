package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai-api/internal/domain/memory"
)

func defaultRanker() *Ranker {
	return NewRanker(RankerOptions{
		SemanticWeight:   0.4,
		StructuralWeight: 0.3,
		RecencyWeight:    0.2,
		DiversityBonus:   0.1,
		VectorWeight:     0.6,
		GraphWeight:      0.4,
		RecencyHalfLife:  720 * time.Hour,
	})
}

func vectorCandidate(chunkID string, sim float64, occurredAt int64) memory.MergedCandidate {
	return memory.MergedCandidate{
		ChunkID:    chunkID,
		Text:       "text of " + chunkID,
		OccurredAt: occurredAt,
		Sources:    []memory.SourceType{memory.SourceTypeVector},
		Vector: &memory.RetrievalCandidate{
			ChunkID:          chunkID,
			SourceType:       memory.SourceTypeVector,
			RawScore:         sim,
			CosineSimilarity: sim,
		},
	}
}

func bothCandidate(chunkID string, sim, structural float64, occurredAt int64) memory.MergedCandidate {
	m := vectorCandidate(chunkID, sim, occurredAt)
	m.Sources = append(m.Sources, memory.SourceTypeGraph)
	m.Graph = &memory.RetrievalCandidate{
		ChunkID:         chunkID,
		SourceType:      memory.SourceTypeGraph,
		RawScore:        structural,
		HopDistance:     1,
		MatchedEntities: []string{"person:alice"},
	}
	return m
}

func TestRankEmpty(t *testing.T) {
	assert.Nil(t, defaultRanker().Rank(StrategyHybrid, nil, time.Now()))
}

func TestRankFactorsSumToUnifiedScore(t *testing.T) {
	now := time.Now()
	results := defaultRanker().Rank(StrategyHybrid, []memory.MergedCandidate{
		bothCandidate("s1#0000", 0.8, 0.5, now.Add(-24*time.Hour).Unix()),
	}, now)

	require.Len(t, results, 1)
	sum := 0.0
	for _, f := range results[0].Factors {
		sum += f.Contribution
		assert.InDelta(t, f.RawValue*f.Weight, f.Contribution, 1e-6, "factor %s", f.Name)
		assert.NotEmpty(t, f.Explanation)
	}
	assert.InDelta(t, sum, results[0].UnifiedScore, 1e-5)
}

func TestRankDeterministicTieBreak(t *testing.T) {
	now := time.Now()
	merged := []memory.MergedCandidate{
		vectorCandidate("s1#0002", 0.7, 0),
		vectorCandidate("s1#0000", 0.7, 0),
		vectorCandidate("s1#0001", 0.7, 0),
	}

	r := defaultRanker()
	first := r.Rank(StrategyHybrid, merged, now)
	second := r.Rank(StrategyHybrid, merged, now)

	require.Len(t, first, 3)
	assert.Equal(t, "s1#0000", first[0].ChunkID)
	assert.Equal(t, "s1#0001", first[1].ChunkID)
	assert.Equal(t, "s1#0002", first[2].ChunkID)
	assert.Equal(t, first, second)
}

func TestRankDiversityRewardsDualRecall(t *testing.T) {
	now := time.Now()
	results := defaultRanker().Rank(StrategyHybrid, []memory.MergedCandidate{
		vectorCandidate("s1#0000", 0.8, 0),
		bothCandidate("s1#0001", 0.8, 0.8, 0),
	}, now)

	require.Len(t, results, 2)
	assert.Equal(t, "s1#0001", results[0].ChunkID, "dual-recalled chunk should outrank single-source at equal similarity")
}

func TestRankRecencyDecay(t *testing.T) {
	now := time.Now()
	halfLife := 720 * time.Hour
	results := defaultRanker().Rank(StrategyHybrid, []memory.MergedCandidate{
		vectorCandidate("s1#0000", 0.8, now.Add(-halfLife).Unix()),
		vectorCandidate("s1#0001", 0.8, now.Add(-time.Hour).Unix()),
	}, now)

	require.Len(t, results, 2)
	assert.Equal(t, "s1#0001", results[0].ChunkID, "fresher chunk should rank higher")

	// 半衰期处 recency 原始值应接近 0.5
	for _, res := range results {
		if res.ChunkID != "s1#0000" {
			continue
		}
		for _, f := range res.Factors {
			if f.Name == FactorRecency {
				assert.InDelta(t, 0.5, f.RawValue, 0.01)
			}
		}
	}
}

func TestRankUnknownOccurrenceGetsZeroRecency(t *testing.T) {
	results := defaultRanker().Rank(StrategyHybrid, []memory.MergedCandidate{
		vectorCandidate("s1#0000", 0.8, 0),
	}, time.Now())

	require.Len(t, results, 1)
	var found bool
	for _, f := range results[0].Factors {
		if f.Name == FactorRecency {
			found = true
			assert.Zero(t, f.RawValue)
			assert.Equal(t, "occurrence time unknown", f.Explanation)
		}
	}
	assert.True(t, found)
}

func TestRankSingleBackendStrategyWeights(t *testing.T) {
	now := time.Now()
	results := defaultRanker().Rank(StrategyVector, []memory.MergedCandidate{
		vectorCandidate("s1#0000", 1.0, 0),
	}, now)

	require.Len(t, results, 1)
	for _, f := range results[0].Factors {
		switch f.Name {
		case FactorSemantic:
			// vector 策略下语义独占相关性权重池 0.7
			assert.InDelta(t, 0.7, f.Weight, 1e-9)
		case FactorStructural:
			assert.Zero(t, f.Weight)
		}
	}
}

func TestRankEnsembleUsesFusionFactor(t *testing.T) {
	now := time.Now()
	a := bothCandidate("s1#0000", 0.9, 0.9, 0)
	a.FusedScore = 2.0 / 61.0
	b := vectorCandidate("s1#0001", 0.9, 0)
	b.FusedScore = 1.0 / 62.0

	results := defaultRanker().Rank(StrategyEnsemble, []memory.MergedCandidate{a, b}, now)

	require.Len(t, results, 2)
	assert.Equal(t, "s1#0000", results[0].ChunkID)

	names := map[string]bool{}
	for _, f := range results[0].Factors {
		names[f.Name] = true
	}
	assert.True(t, names[FactorFusion])
	assert.False(t, names[FactorSemantic])
	assert.False(t, names[FactorStructural])
}

func TestRankHopPenaltyMonotonic(t *testing.T) {
	// 同一实体强度下跳数越大结构得分越低
	r := NewGraphRetriever(nil, nil, 2, 0.5)
	s0 := r.structuralScore(&memory.RetrievalCandidate{HopDistance: 0, MatchedEntities: []string{"a"}})
	s1 := r.structuralScore(&memory.RetrievalCandidate{HopDistance: 1, MatchedEntities: []string{"a"}})
	s2 := r.structuralScore(&memory.RetrievalCandidate{HopDistance: 2, MatchedEntities: []string{"a"}})

	assert.Greater(t, s0, s1)
	assert.Greater(t, s1, s2)
	assert.InDelta(t, 0.5, s1/s0, 1e-9)
}

func TestRankWithHybridWeightsOverride(t *testing.T) {
	// 语义/结构相关性权重池为 0.7；覆盖混合权重后按新比例切分
	merged := []memory.MergedCandidate{bothCandidate("s1#0000", 1.0, 1.0, 0)}

	results := defaultRanker().WithHybridWeights(0.9, 0.1).Rank(StrategyHybrid, merged, time.Now())
	require.Len(t, results, 1)

	var semantic, structural float64
	for _, f := range results[0].Factors {
		switch f.Name {
		case FactorSemantic:
			semantic = f.Weight
		case FactorStructural:
			structural = f.Weight
		}
	}
	assert.InDelta(t, 0.7*0.9, semantic, 1e-9)
	assert.InDelta(t, 0.7*0.1, structural, 1e-9)
}
