package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// CheckoutPending 请求已受理，订单尚未落库。
	CheckoutPending = "pending"
	// CheckoutSuccess 订单已创建，重放直接返回该订单。
	CheckoutSuccess = "success"
)

// CheckoutState 对应 Redis 内的下单结果结构。
type CheckoutState struct {
	Status  string
	OrderID uint
}

// GetCheckoutState found=false 表示 key 不存在。
func GetCheckoutState(ctx context.Context, rdb *rd.Client, key string) (CheckoutState, bool, error) {
	m, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return CheckoutState{}, false, err
	}
	if len(m) == 0 {
		return CheckoutState{}, false, nil
	}

	out := CheckoutState{Status: m["status"]}
	if out.Status == "" {
		out.Status = CheckoutPending
	}
	if id, err := strconv.ParseUint(m["order_id"], 10, 64); err == nil {
		out.OrderID = uint(id)
	}
	return out, true, nil
}

// PutCheckoutState 更新状态并刷新 TTL。
func PutCheckoutState(ctx context.Context, rdb *rd.Client, key string, st CheckoutState, ttl time.Duration) error {
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"status", st.Status,
		"order_id", strconv.FormatUint(uint64(st.OrderID), 10),
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
