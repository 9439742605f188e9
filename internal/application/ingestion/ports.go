package ingestion

import (
	"context"
	"strings"

	"recall-ai-api/internal/domain/memory"
)

// EntityExtractor 定义应用层对外部 NER 能力的最小依赖（port）。
// 具体实现由基础设施层提供，可随模型版本替换。
type EntityExtractor interface {
	Extract(ctx context.Context, text, language string) ([]memory.RawMention, error)
}

// VectorStore 定义应用层对向量存储的最小依赖（port）
type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	UpsertChunks(ctx context.Context, chunks []*VectorChunk) error
	DeleteBySource(ctx context.Context, userID, sourceID string) error
}

// GraphStore 定义应用层对图存储的最小依赖（port）
type GraphStore interface {
	UpsertChunkGraph(ctx context.Context, in *GraphUpsert) error
	PurgeSource(ctx context.Context, userID, sourceID string) error
}

// StatusStore 摄取状态机的持久化（独立于两个记忆后端）
type StatusStore interface {
	StartRun(ctx context.Context, sourceID, runID string, totalChunks int) error
	RecordChunk(ctx context.Context, sourceID, runID string, outcome memory.ChunkOutcome) error
	LatestReport(ctx context.Context, sourceID string) (*memory.IngestionReport, error)
	PurgeSource(ctx context.Context, sourceID string) error
}

// VectorChunkMeta 写入向量存储的元数据。
// 外部向量存储拒绝 null 与嵌套值，因此所有字段均为标量且非空。
type VectorChunkMeta struct {
	UserID     string
	SourceID   string
	Ordinal    int64
	OccurredAt int64
	Language   string
	Tags       string
	Category   string
	Shared     bool
}

// VectorChunk 一次向量 upsert 的载荷
type VectorChunk struct {
	ID     string
	Vector []float32
	Text   string
	Meta   VectorChunkMeta
}

// GraphUpsert 一次图 upsert 的载荷：分块节点、实体节点与提及边
type GraphUpsert struct {
	UserID     string
	Chunk      memory.Chunk
	OccurredAt int64
	Shared     bool
	Entities   []memory.Entity
	Mentions   []memory.Mention
}

// SanitizeMeta 将可选/缺失字段转换为显式默认值，保证元数据全部为非空标量。
func SanitizeMeta(chunk memory.Chunk, userID string, occurredAt int64, shared bool) VectorChunkMeta {
	lang := strings.TrimSpace(chunk.Language)
	if lang == "" {
		lang = "und"
	}
	return VectorChunkMeta{
		UserID:     strings.TrimSpace(userID),
		SourceID:   chunk.SourceID,
		Ordinal:    int64(chunk.OrdinalIndex),
		OccurredAt: occurredAt,
		Language:   lang,
		Tags:       strings.Join(chunk.Tags, ","),
		Category:   chunk.Category,
		Shared:     shared,
	}
}
