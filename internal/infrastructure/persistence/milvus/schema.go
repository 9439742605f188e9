// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// CollectionMemoryChunks 记忆分块集合
	CollectionMemoryChunks = "memory_chunks"

	// SharedPartition 共享记忆分区，所有用户可检索
	SharedPartition = "shared"
)

// MemoryChunksSchema 记忆分块 Collection Schema。维度由嵌入模型配置决定。
func MemoryChunksSchema(dimension int) *entity.Schema {
	return &entity.Schema{
		CollectionName: CollectionMemoryChunks,
		Description:    "Transcript chunks for semantic memory search",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dimension),
				},
			},
			{
				Name:     "user_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "source_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "96",
				},
			},
			{
				Name:     "ordinal",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "occurred_at",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "language",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "16",
				},
			},
			{
				Name:     "tags",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "category",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "text_content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
		},
	}
}

// MemoryChunk 记忆分块数据结构
type MemoryChunk struct {
	ID          string    `json:"id"`
	Vector      []float32 `json:"vector"`
	UserID      string    `json:"user_id"`
	SourceID    string    `json:"source_id"`
	Ordinal     int64     `json:"ordinal"`
	OccurredAt  int64     `json:"occurred_at"`
	Language    string    `json:"language"`
	Tags        string    `json:"tags"`
	Category    string    `json:"category"`
	TextContent string    `json:"text_content"`
}

// PartitionName 生成用户分区名称；共享分块落入 SharedPartition
func PartitionName(userID string, shared bool) string {
	if shared {
		return SharedPartition
	}
	return "user_" + userID
}
