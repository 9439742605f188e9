package milvus

import (
	"context"
	"sort"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/application/retrieval"
	"recall-ai-api/internal/domain/memory"
)

// ChunkStoreAdapter 将向量仓储适配为应用层的摄取与检索 port
type ChunkStoreAdapter struct {
	repo *Repository
}

// NewChunkStoreAdapter 创建适配器
func NewChunkStoreAdapter(repo *Repository) *ChunkStoreAdapter {
	return &ChunkStoreAdapter{repo: repo}
}

var (
	_ ingestion.VectorStore    = (*ChunkStoreAdapter)(nil)
	_ retrieval.VectorSearcher = (*ChunkStoreAdapter)(nil)
)

// EnsureCollection 确保集合可用
func (a *ChunkStoreAdapter) EnsureCollection(ctx context.Context) error {
	if a == nil || a.repo == nil {
		return retrieval.ErrVectorDisabled
	}
	return a.repo.EnsureMemoryChunksCollection(ctx)
}

// UpsertChunks 按分区分组后逐组 upsert
func (a *ChunkStoreAdapter) UpsertChunks(ctx context.Context, chunks []*ingestion.VectorChunk) error {
	if a == nil || a.repo == nil {
		return retrieval.ErrVectorDisabled
	}
	if len(chunks) == 0 {
		return nil
	}

	byPartition := make(map[string][]*MemoryChunk, 2)
	for _, c := range chunks {
		if c == nil {
			continue
		}
		partition := PartitionName(c.Meta.UserID, c.Meta.Shared)
		byPartition[partition] = append(byPartition[partition], &MemoryChunk{
			ID:          c.ID,
			Vector:      c.Vector,
			UserID:      c.Meta.UserID,
			SourceID:    c.Meta.SourceID,
			Ordinal:     c.Meta.Ordinal,
			OccurredAt:  c.Meta.OccurredAt,
			Language:    c.Meta.Language,
			Tags:        c.Meta.Tags,
			Category:    c.Meta.Category,
			TextContent: c.Text,
		})
	}
	for partition, group := range byPartition {
		if err := a.repo.UpsertChunks(ctx, partition, group); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBySource 按来源清除向量分块
func (a *ChunkStoreAdapter) DeleteBySource(ctx context.Context, userID, sourceID string) error {
	if a == nil || a.repo == nil {
		return retrieval.ErrVectorDisabled
	}
	return a.repo.DeleteBySource(ctx, userID, sourceID)
}

// SearchChunks 近邻检索并转换为检索候选。
// COSINE 度量下 Milvus 返回的 Score 即余弦相似度，越大越相近。
func (a *ChunkStoreAdapter) SearchChunks(ctx context.Context, params *retrieval.VectorSearchParams) ([]memory.RetrievalCandidate, error) {
	if a == nil || a.repo == nil {
		return nil, retrieval.ErrVectorDisabled
	}
	if params == nil {
		return nil, nil
	}

	out, err := a.repo.SearchChunks(ctx, &SearchParams{
		UserID:        params.UserID,
		QueryVector:   params.QueryVector,
		TopK:          params.TopK,
		IncludeShared: params.IncludeShared,
		SourceIDs:     params.SourceIDs,
		Tags:          params.Tags,
		OccurredFrom:  params.OccurredFrom,
		OccurredTo:    params.OccurredTo,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]memory.RetrievalCandidate, 0, len(out))
	for _, r := range out {
		if r == nil {
			continue
		}
		similarity := float64(r.Score)
		candidates = append(candidates, memory.RetrievalCandidate{
			ChunkID:          r.ID,
			SourceType:       memory.SourceTypeVector,
			RawScore:         similarity,
			CosineSimilarity: similarity,
			Text:             r.TextContent,
			OccurredAt:       r.OccurredAt,
		})
	}
	sortBySimilarity(candidates)
	return candidates, nil
}

// sortBySimilarity 相似度降序，同分按 chunk_id 升序，保证返回顺序确定
func sortBySimilarity(candidates []memory.RetrievalCandidate) {
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].RawScore != candidates[b].RawScore {
			return candidates[a].RawScore > candidates[b].RawScore
		}
		return candidates[a].ChunkID < candidates[b].ChunkID
	})
}
