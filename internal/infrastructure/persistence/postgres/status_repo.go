// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/domain/memory"
	apperrors "recall-ai-api/pkg/errors"
)

// IngestRunRecord 一次来源摄取运行
type IngestRunRecord struct {
	RunID       string    `gorm:"column:run_id;primaryKey;size:64"`
	SourceID    string    `gorm:"column:source_id;size:96;index"`
	TotalChunks int       `gorm:"column:total_chunks"`
	StartedAt   time.Time `gorm:"column:started_at"`
	FinishedAt  time.Time `gorm:"column:finished_at"`
}

// TableName 指定表名
func (IngestRunRecord) TableName() string {
	return "ingest_runs"
}

// ChunkStatusRecord 分块级摄取状态
type ChunkStatusRecord struct {
	RunID        string    `gorm:"column:run_id;primaryKey;size:64"`
	ChunkID      string    `gorm:"column:chunk_id;primaryKey;size:128"`
	SourceID     string    `gorm:"column:source_id;size:96;index"`
	OrdinalIndex int       `gorm:"column:ordinal_index"`
	Status       string    `gorm:"column:status;size:32"`
	VectorDone   bool      `gorm:"column:vector_done"`
	GraphDone    bool      `gorm:"column:graph_done"`
	Attempts     int       `gorm:"column:attempts"`
	Error        string    `gorm:"column:error;type:text"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName 指定表名
func (ChunkStatusRecord) TableName() string {
	return "chunk_statuses"
}

// StatusRepository 摄取状态仓储实现
type StatusRepository struct {
	client *Client
}

// NewStatusRepository 创建摄取状态仓储
func NewStatusRepository(client *Client) *StatusRepository {
	return &StatusRepository{client: client}
}

var _ ingestion.StatusStore = (*StatusRepository)(nil)

// AutoMigrate 建表
func (r *StatusRepository) AutoMigrate() error {
	return r.client.db.AutoMigrate(&IngestRunRecord{}, &ChunkStatusRecord{})
}

// StartRun 记录一次摄取运行的开始
func (r *StatusRepository) StartRun(ctx context.Context, sourceID, runID string, totalChunks int) error {
	ctx, span := tracer.Start(ctx, "postgres.StatusRepository.StartRun")
	defer span.End()

	record := &IngestRunRecord{
		RunID:       runID,
		SourceID:    sourceID,
		TotalChunks: totalChunks,
		StartedAt:   time.Now(),
	}
	if err := r.client.db.WithContext(ctx).Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to start ingest run: %w", err)
	}
	return nil
}

// RecordChunk upsert 分块状态；同一 (run, chunk) 的新状态覆盖旧状态
func (r *StatusRepository) RecordChunk(ctx context.Context, sourceID, runID string, outcome memory.ChunkOutcome) error {
	ctx, span := tracer.Start(ctx, "postgres.StatusRepository.RecordChunk")
	defer span.End()

	record := &ChunkStatusRecord{
		RunID:        runID,
		ChunkID:      outcome.ChunkID,
		SourceID:     sourceID,
		OrdinalIndex: outcome.OrdinalIndex,
		Status:       string(outcome.Status),
		VectorDone:   outcome.VectorDone,
		GraphDone:    outcome.GraphDone,
		Attempts:     outcome.Attempts,
		Error:        outcome.Error,
		UpdatedAt:    time.Now(),
	}
	err := r.client.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "chunk_id"}},
			UpdateAll: true,
		}).
		Create(record).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record chunk status: %w", err)
	}

	// 全部分块落定后补记运行结束时间
	if outcome.Status == memory.ChunkStatusIndexed || outcome.Status == memory.ChunkStatusFailed {
		if err := r.client.db.WithContext(ctx).
			Model(&IngestRunRecord{}).
			Where("run_id = ?", runID).
			Update("finished_at", time.Now()).Error; err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to update run finish time: %w", err)
		}
	}
	return nil
}

// LatestReport 读取来源最近一次运行的报告
func (r *StatusRepository) LatestReport(ctx context.Context, sourceID string) (*memory.IngestionReport, error) {
	ctx, span := tracer.Start(ctx, "postgres.StatusRepository.LatestReport")
	defer span.End()

	var run IngestRunRecord
	err := r.client.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.ErrSourceNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load ingest run: %w", err)
	}

	var chunks []ChunkStatusRecord
	err = r.client.db.WithContext(ctx).
		Where("run_id = ?", run.RunID).
		Order("ordinal_index ASC").
		Find(&chunks).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load chunk statuses: %w", err)
	}

	report := &memory.IngestionReport{
		SourceID:    run.SourceID,
		RunID:       run.RunID,
		TotalChunks: run.TotalChunks,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Chunks:      make([]memory.ChunkOutcome, 0, len(chunks)),
	}
	for _, c := range chunks {
		outcome := memory.ChunkOutcome{
			ChunkID:      c.ChunkID,
			OrdinalIndex: c.OrdinalIndex,
			Status:       memory.ChunkStatus(c.Status),
			VectorDone:   c.VectorDone,
			GraphDone:    c.GraphDone,
			Attempts:     c.Attempts,
			Error:        c.Error,
		}
		report.Chunks = append(report.Chunks, outcome)
		switch outcome.Status {
		case memory.ChunkStatusIndexed:
			report.Indexed++
		case memory.ChunkStatusPartiallyIndexed:
			report.Partial++
		case memory.ChunkStatusFailed:
			report.Failed++
		}
	}
	return report, nil
}

// PurgeSource 删除来源的全部运行与分块状态
func (r *StatusRepository) PurgeSource(ctx context.Context, sourceID string) error {
	ctx, span := tracer.Start(ctx, "postgres.StatusRepository.PurgeSource")
	defer span.End()

	return r.client.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", sourceID).Delete(&ChunkStatusRecord{}).Error; err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to delete chunk statuses: %w", err)
		}
		if err := tx.Where("source_id = ?", sourceID).Delete(&IngestRunRecord{}).Error; err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to delete ingest runs: %w", err)
		}
		return nil
	})
}
