// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"recall-ai-api/internal/application/ingestion"
	"recall-ai-api/internal/infrastructure/messaging"
	"recall-ai-api/internal/interfaces/http/dto"
	"recall-ai-api/pkg/logger"
)

// MemoryHandler 记忆摄取与来源管理处理器
type MemoryHandler struct {
	producer    *messaging.Producer
	status      ingestion.StatusStore
	coordinator *ingestion.Coordinator
}

// NewMemoryHandler 创建记忆处理器
func NewMemoryHandler(producer *messaging.Producer, status ingestion.StatusStore, coordinator *ingestion.Coordinator) *MemoryHandler {
	return &MemoryHandler{
		producer:    producer,
		status:      status,
		coordinator: coordinator,
	}
}

// IngestSource 提交来源文本进行摄取
// @Summary 提交来源摄取
// @Description 将来源文本拆分为分块并写入向量与图谱记忆，默认异步执行，sync=true 时同步返回报告
// @Tags Memory
// @Accept json
// @Produce json
// @Param request body dto.IngestSourceRequest true "摄取请求"
// @Param sync query bool false "同步摄取并返回完整报告"
// @Success 202 {object} dto.Response[dto.IngestJobResponse]
// @Success 200 {object} dto.Response[dto.IngestionReportResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/memory/sources [post]
func (h *MemoryHandler) IngestSource(c *gin.Context) {
	if abortIfNil(c, h.producer) {
		return
	}

	var req dto.IngestSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	if queryBool(c, "sync", false) && h.coordinator != nil {
		report, err := h.coordinator.Ingest(c.Request.Context(), ingestion.IngestInput{
			SourceID:   req.SourceID,
			UserID:     req.UserID,
			Text:       req.Text,
			Language:   req.Language,
			Tags:       req.Tags,
			Category:   req.Category,
			OccurredAt: req.OccurredAt,
			Shared:     req.Shared,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		dto.Success(c, dto.FromIngestionReport(report))
		return
	}

	job := &messaging.IngestJobMessage{
		JobID:      uuid.New().String(),
		UserID:     req.UserID,
		SourceID:   req.SourceID,
		Text:       req.Text,
		Language:   req.Language,
		Tags:       req.Tags,
		Category:   req.Category,
		OccurredAt: req.OccurredAt,
		Shared:     req.Shared,
	}

	if _, err := h.producer.PublishIngestJob(c.Request.Context(), job); err != nil {
		logger.Error(c.Request.Context(), "failed to enqueue ingest job", err,
			"source_id", req.SourceID,
		)
		dto.ServiceUnavailable(c, "failed to enqueue ingest job")
		return
	}

	dto.Accepted(c, dto.IngestJobResponse{
		JobID:    job.JobID,
		SourceID: req.SourceID,
		Status:   "queued",
	})
}

// SourceReport 查询某来源最近一次摄取的分块状态报告
// @Summary 查询摄取报告
// @Description 返回来源最近一次摄取运行的每分块索引状态
// @Tags Memory
// @Produce json
// @Param sid path string true "来源 ID"
// @Success 200 {object} dto.Response[dto.IngestionReportResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/memory/sources/{sid}/report [get]
func (h *MemoryHandler) SourceReport(c *gin.Context) {
	if abortIfNil(c, h.status) {
		return
	}

	sid, ok := pathSourceID(c)
	if !ok {
		return
	}

	report, err := h.status.LatestReport(c.Request.Context(), sid)
	if err != nil {
		respondError(c, err)
		return
	}

	dto.Success(c, dto.FromIngestionReport(report))
}

// PurgeSource 删除来源在两套记忆后端中的全部痕迹
// @Summary 清除来源记忆
// @Description 异步删除来源的全部分块、向量与图谱数据
// @Tags Memory
// @Produce json
// @Param sid path string true "来源 ID"
// @Param user_id query string true "用户 ID"
// @Success 202 {object} dto.Response[dto.PurgeJobResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/memory/sources/{sid} [delete]
func (h *MemoryHandler) PurgeSource(c *gin.Context) {
	if abortIfNil(c, h.producer) {
		return
	}

	sid, ok := pathSourceID(c)
	if !ok {
		return
	}
	uid, ok := queryUserID(c)
	if !ok {
		return
	}

	job := &messaging.PurgeJobMessage{
		JobID:    uuid.New().String(),
		UserID:   uid,
		SourceID: sid,
	}

	if _, err := h.producer.PublishPurgeJob(c.Request.Context(), job); err != nil {
		logger.Error(c.Request.Context(), "failed to enqueue purge job", err,
			"source_id", sid,
		)
		dto.ServiceUnavailable(c, "failed to enqueue purge job")
		return
	}

	dto.Accepted(c, dto.PurgeJobResponse{
		JobID:    job.JobID,
		SourceID: sid,
		Status:   "queued",
	})
}
