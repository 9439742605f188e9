package retrieval

import (
	"context"

	"recall-ai-api/internal/domain/memory"
)

// VectorSearchParams 向量近邻搜索参数
type VectorSearchParams struct {
	UserID        string
	QueryVector   []float32
	TopK          int
	IncludeShared bool
	// 范围过滤，空值表示不过滤
	SourceIDs    []string
	Tags         []string
	OccurredFrom int64
	OccurredTo   int64
}

// VectorSearcher 定义检索层对向量存储的最小依赖（port）。
// 返回的候选 RawScore 为余弦相似度，降序。
type VectorSearcher interface {
	SearchChunks(ctx context.Context, params *VectorSearchParams) ([]memory.RetrievalCandidate, error)
}

// GraphSearchParams 图遍历搜索参数
type GraphSearchParams struct {
	UserID string
	// EntityKeys 查询中识别出的规范化实体键
	EntityKeys []string
	// NameTerms 未能规范化命中时按显示名模糊匹配的词项
	NameTerms     []string
	MaxHops       int
	TopK          int
	IncludeShared bool
	// 范围过滤，空值表示不过滤
	SourceIDs    []string
	OccurredFrom int64
	OccurredTo   int64
}

// GraphSearcher 定义检索层对实体图的最小依赖（port）。
// 返回的候选携带 HopDistance 与 MatchedEntities，由调用方折算结构得分。
type GraphSearcher interface {
	SearchChunks(ctx context.Context, params *GraphSearchParams) ([]memory.RetrievalCandidate, error)
}

// QueryCache 查询结果缓存（port），读写失败均降级为未命中
type QueryCache interface {
	GetQuery(ctx context.Context, key string) (*QueryOutput, bool)
	SetQuery(ctx context.Context, key string, out *QueryOutput)
}
