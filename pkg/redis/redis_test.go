package redis

import (
	"context"
	"testing"
	"time"

	"storefront/internal/store/storetest"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "storefront:stock:7", StockKey(DefaultPrefix, 7))
	require.Equal(t, "storefront:checkout:lock:3:abc", CheckoutLockKey(DefaultPrefix, 3, "abc"))
	require.Equal(t, "storefront:checkout:state:3:abc", CheckoutStateKey(DefaultPrefix, 3, "abc"))
	require.Equal(t, "storefront:rate_limit:checkout:user:3", RateLimitKey(DefaultPrefix, "checkout", "user:3"))
}

func TestIdempotencyFlow(t *testing.T) {
	rdb, prefix := storetest.Redis(t)
	ctx := context.Background()
	idem := NewIdempotency(rdb, prefix, time.Minute)

	_, found, err := idem.Lookup(ctx, 1, "k1")
	require.NoError(t, err)
	require.False(t, found)

	token, ok, err := idem.Acquire(ctx, 1, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	// 处理中的重复请求拿不到锁
	_, ok, err = idem.Acquire(ctx, 1, "k1")
	require.NoError(t, err)
	require.False(t, ok)

	st, found, err := idem.Lookup(ctx, 1, "k1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, CheckoutPending, st.Status)

	// 其他用户的同名 key 互不影响
	_, ok, err = idem.Acquire(ctx, 2, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, idem.Complete(ctx, 1, "k1", token, 99))
	st, found, err = idem.Lookup(ctx, 1, "k1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, CheckoutState{Status: CheckoutSuccess, OrderID: 99}, st)

	exists, err := rdb.Exists(ctx, CheckoutLockKey(prefix, 1, "k1")).Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestIdempotencyAbortAllowsRetry(t *testing.T) {
	rdb, prefix := storetest.Redis(t)
	ctx := context.Background()
	idem := NewIdempotency(rdb, prefix, time.Minute)

	token, ok, err := idem.Acquire(ctx, 5, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, idem.Abort(ctx, 5, "k", token))

	_, found, err := idem.Lookup(ctx, 5, "k")
	require.NoError(t, err)
	require.False(t, found)

	_, ok, err = idem.Acquire(ctx, 5, "k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIdempotencyAcquireRefusesFinishedKey(t *testing.T) {
	rdb, prefix := storetest.Redis(t)
	ctx := context.Background()
	idem := NewIdempotency(rdb, prefix, time.Minute)

	token, ok, err := idem.Acquire(ctx, 4, "done")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, idem.Complete(ctx, 4, "done", token, 12))

	// 锁已释放，但成功状态仍在：不能再次受理
	_, ok, err = idem.Acquire(ctx, 4, "done")
	require.NoError(t, err)
	require.False(t, ok)

	st, found, err := idem.Lookup(ctx, 4, "done")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, CheckoutState{Status: CheckoutSuccess, OrderID: 12}, st)

	ttl, err := rdb.PTTL(ctx, CheckoutStateKey(prefix, 4, "done")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 30*time.Second)
}

func TestReleaseLockIfMatch(t *testing.T) {
	rdb, prefix := storetest.Redis(t)
	ctx := context.Background()
	key := prefix + "lock"

	ok, err := rdb.SetNX(ctx, key, "owner", time.Minute).Result()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ReleaseLockIfMatch(ctx, rdb, key, "intruder"))
	v, err := rdb.Get(ctx, key).Result()
	require.NoError(t, err)
	require.Equal(t, "owner", v)

	require.NoError(t, ReleaseLockIfMatch(ctx, rdb, key, "owner"))
	n, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStockCacheRejectsStaleWrites(t *testing.T) {
	rdb, prefix := storetest.Redis(t)
	ctx := context.Background()
	cache := NewStockCache(rdb, prefix, time.Minute)

	_, found, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, found)

	ok, err := cache.Set(ctx, 1, 10, 200)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.Set(ctx, 1, 15, 100)
	require.NoError(t, err)
	require.False(t, ok)

	n, found, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 10, n)

	_, err = cache.Set(ctx, 2, 0, 1)
	require.NoError(t, err)
	many, err := cache.GetMany(ctx, []uint{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, map[uint]int64{1: 10, 2: 0}, many)

	require.NoError(t, cache.Invalidate(ctx, 1))
	_, found, err = cache.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, found)
}
