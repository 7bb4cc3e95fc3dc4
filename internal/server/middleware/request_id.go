package middleware

import (
	"github.com/gin-gonic/gin"

	"mango/internal/pkg/id"
)

// RequestIDHeader 请求ID的 Header 名
const RequestIDHeader = "X-Request-ID"

// RequestID 请求ID中间件
// 客户端带了 X-Request-ID 则沿用，否则生成一个，并回写到响应头
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = id.New()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)
		c.Next()
	}
}
