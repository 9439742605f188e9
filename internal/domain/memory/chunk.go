// Package memory 定义双重记忆领域模型
package memory

import (
	"fmt"
	"time"
)

// Chunk 来源文本的一个连续分块，是索引的原子单位
type Chunk struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"source_id"`
	OrdinalIndex int       `json:"ordinal_index"`
	Text         string    `json:"text"`
	StartOffset  int       `json:"start_offset"`
	EndOffset    int       `json:"end_offset"`
	Language     string    `json:"language"`
	CreatedAt    time.Time `json:"created_at"`
	Tags         []string  `json:"tags,omitempty"`
	Category     string    `json:"category,omitempty"`
}

// ChunkID 由来源 ID 与序号派生出稳定的分块 ID。
// 同一来源重复摄取得到相同的 ID，保证 upsert 幂等。
func ChunkID(sourceID string, ordinal int) string {
	return fmt.Sprintf("%s#%04d", sourceID, ordinal)
}

// ChunkStatus 分块索引状态机
type ChunkStatus string

const (
	ChunkStatusPending          ChunkStatus = "pending"
	ChunkStatusPartiallyIndexed ChunkStatus = "partially_indexed"
	ChunkStatusIndexed          ChunkStatus = "indexed"
	ChunkStatusFailed           ChunkStatus = "failed"
)

// ChunkOutcome 单个分块的摄取结果
type ChunkOutcome struct {
	ChunkID      string      `json:"chunk_id"`
	OrdinalIndex int         `json:"ordinal_index"`
	Status       ChunkStatus `json:"status"`
	VectorDone   bool        `json:"vector_done"`
	GraphDone    bool        `json:"graph_done"`
	Attempts     int         `json:"attempts"`
	Error        string      `json:"error,omitempty"`
}

// IngestionReport 一次来源摄取的结构化报告。
// Chunks 按序号升序排列，便于阅读。
type IngestionReport struct {
	SourceID    string         `json:"source_id"`
	RunID       string         `json:"run_id"`
	TotalChunks int            `json:"total_chunks"`
	Indexed     int            `json:"indexed"`
	Partial     int            `json:"partially_indexed"`
	Failed      int            `json:"failed"`
	Chunks      []ChunkOutcome `json:"chunks"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// Complete 报告是否全部成功
func (r *IngestionReport) Complete() bool {
	return r != nil && r.Failed == 0 && r.Partial == 0
}
