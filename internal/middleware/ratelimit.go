package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	sfredis "storefront/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// slidingWindow ZSET 滑动窗口，单位毫秒。
// KEYS[1]=限流 key；ARGV: now, window, limit, member
// 返回 {放行 1/拒绝 0, 剩余次数, 建议重试等待 ms}
var slidingWindow = rd.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local wait = window
  if oldest[2] then
    wait = tonumber(oldest[2]) + window - now
  end
  return {0, 0, wait}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1, 0}
`)

// RateLimit 按当前用户限流，未识别身份时按客户端 IP。
// Redis 不可用时放行。
func RateLimit(rdb *rd.Client, prefix, scope string, limit int, window time.Duration, log zerolog.Logger) gin.HandlerFunc {
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}
	return func(c *gin.Context) {
		subject := "ip:" + c.ClientIP()
		if u := CurrentUser(c); u != nil {
			subject = fmt.Sprintf("user:%d", u.ID)
		}
		key := sfredis.RateLimitKey(prefix, scope, subject)

		now := time.Now()
		member := strconv.FormatInt(now.UnixNano(), 36)
		res, err := slidingWindow.Run(c.Request.Context(), rdb, []string{key},
			now.UnixMilli(), windowMs, limit, member).Int64Slice()
		if err != nil || len(res) != 3 {
			log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
		if res[0] == 0 {
			retry := (res[2] + 999) / 1000
			c.Header("Retry-After", strconv.FormatInt(max(retry, 1), 10))
			log.Debug().Str("key", key).Str("request_id", RequestID(c)).Msg("rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "too many requests, try again later",
			})
			return
		}
		c.Next()
	}
}
