package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// checkoutLockTTL 远大于一次下单事务的耗时
const checkoutLockTTL = 30 * time.Second

// Idempotency 基于 Idempotency-Key 的下单去重：
// 处理中的重复请求拿不到锁；已成功的请求重放缓存的订单号。
type Idempotency struct {
	rdb    *rd.Client
	prefix string
	ttl    time.Duration
}

func NewIdempotency(rdb *rd.Client, prefix string, ttl time.Duration) *Idempotency {
	return &Idempotency{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Lookup 查询之前的处理结果。
func (s *Idempotency) Lookup(ctx context.Context, userID uint, key string) (CheckoutState, bool, error) {
	return GetCheckoutState(ctx, s.rdb, CheckoutStateKey(s.prefix, userID, key))
}

// luaAcquire 状态已存在（处理中或已成功）时拒绝；否则占锁并写入 pending。
// 查询与占锁在同一脚本内完成，成功后释放锁的请求不会被重复受理。
const luaAcquire = `
local lockKey = KEYS[1]
local stateKey = KEYS[2]
local token = ARGV[1]
local ttlMs = tonumber(ARGV[2])
if redis.call('EXISTS', stateKey) == 1 then
  return 0
end
if not redis.call('SET', lockKey, token, 'NX', 'PX', ttlMs) then
  return 0
end
redis.call('HSET', stateKey, 'status', ARGV[3], 'order_id', '0')
redis.call('PEXPIRE', stateKey, ttlMs)
return 1
`

var acquireScript = rd.NewScript(luaAcquire)

// Acquire 成功时返回锁 token，之后必须以 Complete 或 Abort 结束。
// 返回 false 时调用方应重新 Lookup 区分“处理中”与“已成功”。
func (s *Idempotency) Acquire(ctx context.Context, userID uint, key string) (string, bool, error) {
	token := uuid.NewString()
	keys := []string{CheckoutLockKey(s.prefix, userID, key), CheckoutStateKey(s.prefix, userID, key)}
	n, err := acquireScript.Run(ctx, s.rdb, keys, token, checkoutLockTTL.Milliseconds(), CheckoutPending).Int()
	if err != nil || n == 0 {
		return "", false, err
	}
	return token, true, nil
}

// Complete 记录成功结果（保留 ttl）并释放锁。
func (s *Idempotency) Complete(ctx context.Context, userID uint, key, token string, orderID uint) error {
	st := CheckoutState{Status: CheckoutSuccess, OrderID: orderID}
	if err := PutCheckoutState(ctx, s.rdb, CheckoutStateKey(s.prefix, userID, key), st, s.ttl); err != nil {
		return err
	}
	return ReleaseLockIfMatch(ctx, s.rdb, CheckoutLockKey(s.prefix, userID, key), token)
}

// Abort 下单失败时清除状态，允许客户端用同一个 key 重试。
func (s *Idempotency) Abort(ctx context.Context, userID uint, key, token string) error {
	if err := s.rdb.Del(ctx, CheckoutStateKey(s.prefix, userID, key)).Err(); err != nil {
		return err
	}
	return ReleaseLockIfMatch(ctx, s.rdb, CheckoutLockKey(s.prefix, userID, key), token)
}
