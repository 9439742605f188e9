// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Repository 记忆分块向量仓储
type Repository struct {
	client    *Client
	dimension int
}

// NewRepository 创建向量仓储。dimension 为嵌入向量维度。
func NewRepository(client *Client, dimension int) *Repository {
	return &Repository{client: client, dimension: dimension}
}

// SearchParams 检索参数
type SearchParams struct {
	UserID        string
	QueryVector   []float32
	TopK          int
	IncludeShared bool
	// 标量过滤条件，空值表示不过滤
	SourceIDs    []string
	Tags         []string
	OccurredFrom int64
	OccurredTo   int64
}

// SearchResult 检索结果
type SearchResult struct {
	ID          string
	Score       float32
	TextContent string
	SourceID    string
	OccurredAt  int64
}

// CreateCollection 创建集合
func (r *Repository) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.CreateCollection",
		trace.WithAttributes(attribute.String("collection", schema.CollectionName)))
	defer span.End()

	collName := r.client.CollectionName(schema.CollectionName)
	schema.CollectionName = collName

	err := r.client.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// CreateIndex 创建 HNSW 索引
func (r *Repository) CreateIndex(ctx context.Context, collection string) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.CreateIndex",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	collName := r.client.CollectionName(collection)

	idx, err := entity.NewIndexHNSW(
		entity.COSINE,
		r.client.config.HNSWM,
		r.client.config.HNSWEfConstruction,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = r.client.milvus.CreateIndex(ctx, collName, "vector", idx, false)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// ensurePartition 确保分区存在（不存在则创建）
func (r *Repository) ensurePartition(ctx context.Context, collName, partitionName string) error {
	has, err := r.client.milvus.HasPartition(ctx, collName, partitionName)
	if err != nil {
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if has {
		return nil
	}
	return r.client.milvus.CreatePartition(ctx, collName, partitionName)
}

// UpsertChunks 按主键 upsert 记忆分块；同一分块重复摄取覆盖旧向量。
// chunks 必须同属一个分区（同一用户或同为共享）。
func (r *Repository) UpsertChunks(ctx context.Context, partitionName string, chunks []*MemoryChunk) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	if len(chunks) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.UpsertChunks",
		trace.WithAttributes(
			attribute.String("partition", partitionName),
			attribute.Int("count", len(chunks)),
		))
	defer span.End()

	collName := r.client.CollectionName(CollectionMemoryChunks)
	if err := r.ensurePartition(ctx, collName, partitionName); err != nil {
		span.RecordError(err)
		return err
	}

	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	userIDs := make([]string, len(chunks))
	sourceIDs := make([]string, len(chunks))
	ordinals := make([]int64, len(chunks))
	occurredAts := make([]int64, len(chunks))
	languages := make([]string, len(chunks))
	tags := make([]string, len(chunks))
	categories := make([]string, len(chunks))
	texts := make([]string, len(chunks))

	for i, c := range chunks {
		ids[i] = c.ID
		vectors[i] = c.Vector
		userIDs[i] = c.UserID
		sourceIDs[i] = c.SourceID
		ordinals[i] = c.Ordinal
		occurredAts[i] = c.OccurredAt
		languages[i] = c.Language
		tags[i] = c.Tags
		categories[i] = c.Category
		texts[i] = c.TextContent
	}

	_, err := r.client.milvus.Upsert(ctx, collName, partitionName,
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector("vector", r.dimension, vectors),
		entity.NewColumnVarChar("user_id", userIDs),
		entity.NewColumnVarChar("source_id", sourceIDs),
		entity.NewColumnInt64("ordinal", ordinals),
		entity.NewColumnInt64("occurred_at", occurredAts),
		entity.NewColumnVarChar("language", languages),
		entity.NewColumnVarChar("tags", tags),
		entity.NewColumnVarChar("category", categories),
		entity.NewColumnVarChar("text_content", texts),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

// SearchChunks 近邻检索记忆分块。
// 仅搜索用户自己的分区，IncludeShared 时追加共享分区。
func (r *Repository) SearchChunks(ctx context.Context, params *SearchParams) ([]*SearchResult, error) {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return nil, fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.SearchChunks",
		trace.WithAttributes(
			attribute.String("user_id", params.UserID),
			attribute.Int("top_k", params.TopK),
		))
	defer span.End()

	collName := r.client.CollectionName(CollectionMemoryChunks)

	// 分区尚未创建（新用户）时直接返回空结果，避免 partition not found
	partitions := make([]string, 0, 2)
	for _, p := range []string{PartitionName(params.UserID, false), SharedPartition} {
		if p == SharedPartition && !params.IncludeShared {
			continue
		}
		has, err := r.client.milvus.HasPartition(ctx, collName, p)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to check partition: %w", err)
		}
		if has {
			partitions = append(partitions, p)
		}
	}
	if len(partitions) == 0 {
		return []*SearchResult{}, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := r.client.milvus.Search(ctx,
		collName,
		partitions,
		buildScalarFilter(params),
		[]string{"id", "text_content", "source_id", "occurred_at"},
		[]entity.Vector{entity.FloatVector(params.QueryVector)},
		"vector",
		entity.COSINE,
		params.TopK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var searchResults []*SearchResult
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			sr := &SearchResult{
				Score: result.Scores[i],
			}
			if idCol, ok := result.Fields.GetColumn("id").(*entity.ColumnVarChar); ok {
				sr.ID = idCol.Data()[i]
			}
			if textCol, ok := result.Fields.GetColumn("text_content").(*entity.ColumnVarChar); ok {
				sr.TextContent = textCol.Data()[i]
			}
			if srcCol, ok := result.Fields.GetColumn("source_id").(*entity.ColumnVarChar); ok {
				sr.SourceID = srcCol.Data()[i]
			}
			if timeCol, ok := result.Fields.GetColumn("occurred_at").(*entity.ColumnInt64); ok {
				sr.OccurredAt = timeCol.Data()[i]
			}
			searchResults = append(searchResults, sr)
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(searchResults)))
	return searchResults, nil
}

// buildScalarFilter 由检索参数拼出标量过滤表达式；无过滤条件时返回空串。
// tags 以逗号拼接存储，按子串匹配任一给定标签。
func buildScalarFilter(params *SearchParams) string {
	var clauses []string

	if len(params.SourceIDs) > 0 {
		quoted := make([]string, 0, len(params.SourceIDs))
		for _, s := range params.SourceIDs {
			quoted = append(quoted, fmt.Sprintf("%q", escapeExprValue(s)))
		}
		clauses = append(clauses, fmt.Sprintf("source_id in [%s]", strings.Join(quoted, ", ")))
	}
	if len(params.Tags) > 0 {
		likes := make([]string, 0, len(params.Tags))
		for _, t := range params.Tags {
			likes = append(likes, fmt.Sprintf(`tags like "%%%s%%"`, escapeExprValue(t)))
		}
		clauses = append(clauses, "("+strings.Join(likes, " or ")+")")
	}
	if params.OccurredFrom > 0 {
		clauses = append(clauses, fmt.Sprintf("occurred_at >= %d", params.OccurredFrom))
	}
	if params.OccurredTo > 0 {
		clauses = append(clauses, fmt.Sprintf("occurred_at <= %d", params.OccurredTo))
	}

	return strings.Join(clauses, " and ")
}

// escapeExprValue 剔除会破坏表达式语法的字符
func escapeExprValue(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, "%", "")
	return s
}

// DeleteBySource 删除来源的全部分块（用户分区与共享分区都清理）
func (r *Repository) DeleteBySource(ctx context.Context, userID, sourceID string) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.DeleteBySource",
		trace.WithAttributes(attribute.String("source_id", sourceID)))
	defer span.End()

	collName := r.client.CollectionName(CollectionMemoryChunks)
	filter := fmt.Sprintf(`source_id == "%s"`, sourceID)

	for _, partition := range []string{PartitionName(userID, false), SharedPartition} {
		has, err := r.client.milvus.HasPartition(ctx, collName, partition)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to check partition: %w", err)
		}
		if !has {
			continue
		}
		if err := r.client.milvus.Delete(ctx, collName, partition, filter); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
	return nil
}

// EnsureMemoryChunksCollection 确保 memory_chunks 集合与索引可用（不存在则创建）。
// 约束：不会做 drop/rebuild 等破坏性操作。
func (r *Repository) EnsureMemoryChunksCollection(ctx context.Context) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}

	exists, err := r.client.HasCollection(ctx, CollectionMemoryChunks)
	if err != nil {
		return err
	}
	if !exists {
		if err := r.CreateCollection(ctx, MemoryChunksSchema(r.dimension)); err != nil {
			return err
		}
		// 新建集合时创建索引；若失败，允许后续由运维介入。
		_ = r.CreateIndex(ctx, CollectionMemoryChunks)
	}

	return r.client.LoadCollection(ctx, CollectionMemoryChunks)
}
