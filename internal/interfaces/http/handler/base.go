// Package handler 提供 HTTP 请求处理器
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"recall-ai-api/internal/interfaces/http/dto"
	apperrors "recall-ai-api/pkg/errors"
)

// respondError 将应用错误统一映射为 HTTP 错误响应
func respondError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)

	detail := &dto.ErrorDetail{
		ErrorCode: string(appErr.Code),
		Details:   appErr.Detail,
	}
	if detail.Details == "" && appErr.Err != nil {
		detail.Details = appErr.Err.Error()
	}
	dto.ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, detail)
}

// pathSourceID 从路径参数解析来源 ID
func pathSourceID(c *gin.Context) (string, bool) {
	sid := c.Param("sid")
	if sid == "" || len(sid) > 96 {
		dto.BadRequest(c, "invalid source id")
		return "", false
	}
	return sid, true
}

// queryUserID 从查询参数解析用户 ID
func queryUserID(c *gin.Context) (string, bool) {
	uid := c.Query("user_id")
	if uid == "" || len(uid) > 64 {
		dto.BadRequest(c, "user_id is required")
		return "", false
	}
	return uid, true
}

// queryBool 解析布尔查询参数，缺省返回 def
func queryBool(c *gin.Context, key string, def bool) bool {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// abortIfNil 依赖缺失时返回 503
func abortIfNil(c *gin.Context, deps ...any) bool {
	for _, d := range deps {
		if d == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code":    http.StatusServiceUnavailable,
				"message": "service not ready",
			})
			return true
		}
	}
	return false
}
