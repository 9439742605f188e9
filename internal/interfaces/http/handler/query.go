// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"recall-ai-api/internal/application/retrieval"
	"recall-ai-api/internal/interfaces/http/dto"
)

// QueryHandler 记忆检索处理器
type QueryHandler struct {
	engine *retrieval.Engine
}

// NewQueryHandler 创建检索处理器
func NewQueryHandler(engine *retrieval.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

// Query 检索记忆
// @Summary 检索记忆
// @Description 并发查询向量与图谱后端，返回融合排序后的记忆分块
// @Tags Query
// @Accept json
// @Produce json
// @Param request body dto.QueryRequest true "查询请求"
// @Success 200 {object} dto.Response[dto.QueryResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/query [post]
func (h *QueryHandler) Query(c *gin.Context) {
	h.handle(c, false)
}

// DebugQuery 检索记忆并返回调试信息
// @Summary 检索记忆（调试）
// @Description 与 /v1/query 相同，但绕过缓存并附带每个后端的耗时与候选数
// @Tags Query
// @Accept json
// @Produce json
// @Param request body dto.QueryRequest true "查询请求"
// @Success 200 {object} dto.Response[dto.QueryResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/query/debug [post]
func (h *QueryHandler) DebugQuery(c *gin.Context) {
	h.handle(c, true)
}

func (h *QueryHandler) handle(c *gin.Context, debug bool) {
	if abortIfNil(c, h.engine) {
		return
	}

	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	strategy, err := retrieval.ParseStrategy(req.Strategy, "")
	if err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	in := retrieval.QueryInput{
		UserID:        req.UserID,
		Query:         req.Query,
		Strategy:      strategy,
		TopK:          req.TopK,
		IncludeShared: req.IncludeShared,
		Debug:         debug,
	}
	if req.Filters != nil {
		in.Filters = retrieval.QueryFilters{
			SourceIDs:    req.Filters.SourceIDs,
			Tags:         req.Filters.Tags,
			OccurredFrom: req.Filters.OccurredFrom,
			OccurredTo:   req.Filters.OccurredTo,
		}
	}
	if req.Weights != nil {
		in.VectorWeight = req.Weights.Vector
		in.GraphWeight = req.Weights.Graph
	}

	var out *retrieval.QueryOutput
	if debug {
		out, err = h.engine.DebugQuery(c.Request.Context(), in)
	} else {
		out, err = h.engine.Query(c.Request.Context(), in)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	dto.Success(c, dto.FromQueryOutput(out))
}
