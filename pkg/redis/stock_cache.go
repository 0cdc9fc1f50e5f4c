package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaSetIfNewer 只接受版本更新的写入，乱序到达的旧快照被丢弃。
const luaSetIfNewer = `
local key = KEYS[1]
local stock = ARGV[1]
local version = tonumber(ARGV[2])
local ttlSec = tonumber(ARGV[3])

local cur = redis.call('HGET', key, 'version')
if cur and tonumber(cur) > version then
  return 0
end
redis.call('HSET', key, 'stock', stock, 'version', ARGV[2])
redis.call('EXPIRE', key, ttlSec)
return 1
`

// StockCache 商品库存的读缓存，数据库始终是权威来源。
type StockCache struct {
	rdb    *rd.Client
	prefix string
	ttl    time.Duration
}

func NewStockCache(rdb *rd.Client, prefix string, ttl time.Duration) *StockCache {
	return &StockCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Set version 取商品 updated_at 的微秒时间戳（Lua 数值精度内），返回是否实际写入。
func (c *StockCache) Set(ctx context.Context, productID uint, stock, version int64) (bool, error) {
	ttlSec := int64(c.ttl / time.Second)
	if ttlSec < 1 {
		ttlSec = 1
	}
	n, err := c.rdb.Eval(ctx, luaSetIfNewer, []string{StockKey(c.prefix, productID)}, stock, version, ttlSec).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *StockCache) Get(ctx context.Context, productID uint) (int64, bool, error) {
	s, err := c.rdb.HGet(ctx, StockKey(c.prefix, productID), "stock").Result()
	if errors.Is(err, rd.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// GetMany 一次往返读取多个商品，未命中的不出现在结果中。
func (c *StockCache) GetMany(ctx context.Context, productIDs []uint) (map[uint]int64, error) {
	pipe := c.rdb.Pipeline()
	cmds := make([]*rd.StringCmd, len(productIDs))
	for i, id := range productIDs {
		cmds[i] = pipe.HGet(ctx, StockKey(c.prefix, id), "stock")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, rd.Nil) {
		return nil, err
	}

	out := make(map[uint]int64, len(productIDs))
	for i, cmd := range cmds {
		n, err := cmd.Int64()
		if err != nil {
			continue
		}
		out[productIDs[i]] = n
	}
	return out, nil
}

func (c *StockCache) Invalidate(ctx context.Context, productID uint) error {
	return c.rdb.Del(ctx, StockKey(c.prefix, productID)).Err()
}
