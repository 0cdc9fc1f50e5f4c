package storetest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// Redis 连接 REDIS_ADDR（默认 localhost:6379），不可达时跳过测试。
// 返回的前缀用于隔离本测试写入的 key。
func Redis(t testing.TB) (*rd.Client, string) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c := rd.NewClient(&rd.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}

	prefix := "test:" + uuid.NewString()[:8] + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		if keys, err := c.Keys(ctx, prefix+"*").Result(); err == nil && len(keys) > 0 {
			_ = c.Del(ctx, keys...).Err()
		}
		_ = c.Close()
	})
	return c, prefix
}
