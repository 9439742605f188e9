// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"runtime/debug"

	"recall-ai-api/internal/interfaces/http/dto"
	"recall-ai-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// panic 堆栈日志的截断上限，避免单条日志过大
const maxStackBytes = 8 << 10

// Recovery Panic 恢复中间件，响应体走统一错误信封
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				if len(stack) > maxStackBytes {
					stack = stack[:maxStackBytes]
				}

				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", err),
					"stack", string(stack),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				dto.InternalError(c, "internal server error")
				c.Abort()
			}
		}()

		c.Next()
	}
}
