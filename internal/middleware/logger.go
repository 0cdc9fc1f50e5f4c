package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID 请求链路 ID，缺省时生成。
const HeaderRequestID = "X-Request-ID"

const requestIDKey = "storefront.request_id"

// RequestLogger 记录每个请求，同时兜住 handler 的 panic。
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDKey, reqID)
		c.Header(HeaderRequestID, reqID)

		defer func() {
			if r := recover(); r != nil {
				var errMsg string
				if e, ok := r.(error); ok {
					errMsg = e.Error()
				} else {
					errMsg = fmt.Sprintf("%v", r)
				}
				log.Error().
					Str("request_id", reqID).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Str("error", errMsg).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code": http.StatusInternalServerError,
					"msg":  "internal server error",
				})
			}

			ev := log.Info()
			if c.Writer.Status() >= http.StatusInternalServerError {
				ev = log.Error()
			}
			var userID uint
			if u := CurrentUser(c); u != nil {
				userID = u.ID
			}
			ev.Str("request_id", reqID).
				Uint("user_id", userID).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Int("status", c.Writer.Status()).
				Dur("latency", time.Since(start)).
				Msg("request completed")
		}()

		c.Next()
	}
}

// RequestID 取当前请求 ID。
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
