package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"recall-ai-api/internal/domain/memory"
)

func TestSortBySimilarityOrdersByScoreDesc(t *testing.T) {
	candidates := []memory.RetrievalCandidate{
		{ChunkID: "s1#0002", RawScore: 0.41},
		{ChunkID: "s1#0000", RawScore: 0.93},
		{ChunkID: "s1#0001", RawScore: 0.77},
	}

	sortBySimilarity(candidates)

	assert.Equal(t, "s1#0000", candidates[0].ChunkID)
	assert.Equal(t, "s1#0001", candidates[1].ChunkID)
	assert.Equal(t, "s1#0002", candidates[2].ChunkID)
}

func TestSortBySimilarityBreaksTiesByChunkID(t *testing.T) {
	// 同分时按 chunk_id 升序，避免相同查询返回顺序抖动
	candidates := []memory.RetrievalCandidate{
		{ChunkID: "s2#0003", RawScore: 0.5},
		{ChunkID: "s1#0009", RawScore: 0.5},
		{ChunkID: "s1#0001", RawScore: 0.5},
		{ChunkID: "s1#0000", RawScore: 0.8},
	}

	sortBySimilarity(candidates)

	assert.Equal(t, "s1#0000", candidates[0].ChunkID)
	assert.Equal(t, "s1#0001", candidates[1].ChunkID)
	assert.Equal(t, "s1#0009", candidates[2].ChunkID)
	assert.Equal(t, "s2#0003", candidates[3].ChunkID)
}
