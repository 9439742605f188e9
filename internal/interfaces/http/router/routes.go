// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"

	"recall-ai-api/internal/interfaces/http/handler"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(
	v1 *gin.RouterGroup,
	memoryHandler *handler.MemoryHandler,
	queryHandler *handler.QueryHandler,
) {
	// 记忆来源管理
	memory := v1.Group("/memory")
	{
		memory.POST("/sources", memoryHandler.IngestSource)
		memory.GET("/sources/:sid/report", memoryHandler.SourceReport)
		memory.DELETE("/sources/:sid", memoryHandler.PurgeSource)
	}

	// 记忆检索
	query := v1.Group("/query")
	{
		query.POST("", queryHandler.Query)
		query.POST("/debug", queryHandler.DebugQuery)
	}
}
