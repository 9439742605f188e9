// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"recall-ai-api/internal/domain/memory"
)

// IngestSourceRequest 摄取来源请求
type IngestSourceRequest struct {
	SourceID   string   `json:"source_id" binding:"required,max=96"`
	UserID     string   `json:"user_id" binding:"required,max=64"`
	Text       string   `json:"text" binding:"required"`
	Language   string   `json:"language" binding:"omitempty,max=16"`
	Tags       []string `json:"tags" binding:"omitempty,max=16,dive,max=32"`
	Category   string   `json:"category" binding:"omitempty,max=64"`
	OccurredAt int64    `json:"occurred_at" binding:"omitempty,gte=0"`
	Shared     bool     `json:"shared"`
}

// IngestJobResponse 摄取任务响应
type IngestJobResponse struct {
	JobID    string `json:"job_id"`
	SourceID string `json:"source_id"`
	Status   string `json:"status"`
}

// PurgeJobResponse 清除任务响应
type PurgeJobResponse struct {
	JobID    string `json:"job_id"`
	SourceID string `json:"source_id"`
	Status   string `json:"status"`
}

// ChunkOutcomeResponse 单个分块的摄取结果
type ChunkOutcomeResponse struct {
	ChunkID      string `json:"chunk_id"`
	OrdinalIndex int    `json:"ordinal_index"`
	Status       string `json:"status"`
	VectorDone   bool   `json:"vector_done"`
	GraphDone    bool   `json:"graph_done"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error,omitempty"`
}

// IngestionReportResponse 来源摄取报告响应
type IngestionReportResponse struct {
	SourceID    string                 `json:"source_id"`
	RunID       string                 `json:"run_id"`
	TotalChunks int                    `json:"total_chunks"`
	Indexed     int                    `json:"indexed"`
	Partial     int                    `json:"partially_indexed"`
	Failed      int                    `json:"failed"`
	Complete    bool                   `json:"complete"`
	StartedAt   int64                  `json:"started_at"`
	FinishedAt  int64                  `json:"finished_at,omitempty"`
	Chunks      []ChunkOutcomeResponse `json:"chunks"`
}

// FromIngestionReport 将领域报告转换为响应对象
func FromIngestionReport(report *memory.IngestionReport) *IngestionReportResponse {
	resp := &IngestionReportResponse{
		SourceID:    report.SourceID,
		RunID:       report.RunID,
		TotalChunks: report.TotalChunks,
		Indexed:     report.Indexed,
		Partial:     report.Partial,
		Failed:      report.Failed,
		Complete:    report.Complete(),
		Chunks:      make([]ChunkOutcomeResponse, 0, len(report.Chunks)),
	}
	// 零值时间不折算 unix 秒，保持 0 让 omitempty 生效
	if !report.StartedAt.IsZero() {
		resp.StartedAt = report.StartedAt.Unix()
	}
	if !report.FinishedAt.IsZero() {
		resp.FinishedAt = report.FinishedAt.Unix()
	}
	for _, ch := range report.Chunks {
		resp.Chunks = append(resp.Chunks, ChunkOutcomeResponse{
			ChunkID:      ch.ChunkID,
			OrdinalIndex: ch.OrdinalIndex,
			Status:       string(ch.Status),
			VectorDone:   ch.VectorDone,
			GraphDone:    ch.GraphDone,
			Attempts:     ch.Attempts,
			Error:        ch.Error,
		})
	}
	return resp
}
