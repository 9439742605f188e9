package retrieval

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"recall-ai-api/internal/domain/memory"
	apperrors "recall-ai-api/pkg/errors"
)

// VectorRetriever 语义召回：查询嵌入 + 近邻搜索
type VectorRetriever struct {
	embedder embedding.Embedder
	store    VectorSearcher
}

// NewVectorRetriever 创建向量召回器
func NewVectorRetriever(embedder embedding.Embedder, store VectorSearcher) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, store: store}
}

// Enabled 向量后端是否可用
func (r *VectorRetriever) Enabled() bool {
	return r != nil && r.embedder != nil && r.store != nil
}

// Retrieve 将查询文本嵌入后执行近邻搜索。
// 候选的 RawScore 与 CosineSimilarity 相同，降序返回。
func (r *VectorRetriever) Retrieve(ctx context.Context, in QueryInput) ([]memory.RetrievalCandidate, error) {
	if !r.Enabled() {
		return nil, ErrVectorDisabled
	}

	vec, err := r.embedQuery(ctx, in.Query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeEmbeddingFailed, "failed to embed query")
	}

	candidates, err := r.store.SearchChunks(ctx, &VectorSearchParams{
		UserID:        in.UserID,
		QueryVector:   vec,
		TopK:          in.TopK,
		IncludeShared: in.IncludeShared,
		SourceIDs:     in.Filters.SourceIDs,
		Tags:          in.Filters.Tags,
		OccurredFrom:  in.Filters.OccurredFrom,
		OccurredTo:    in.Filters.OccurredTo,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeVectorDBError, "vector search failed")
	}
	return candidates, nil
}

func (r *VectorRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	v64, err := r.embedder.EmbedStrings(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	if len(v64) == 0 {
		return nil, apperrors.New(apperrors.CodeEmbeddingFailed, "empty embedding result")
	}
	vec := make([]float32, 0, len(v64[0]))
	for _, x := range v64[0] {
		vec = append(vec, float32(x))
	}
	return vec, nil
}
