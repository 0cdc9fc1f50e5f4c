package redis

import "fmt"

// DefaultPrefix 所有键的命名空间，测试时可替换以隔离数据。
const DefaultPrefix = "storefront:"

// StockKey 商品库存缓存
func StockKey(prefix string, productID uint) string {
	return fmt.Sprintf("%sstock:%d", prefix, productID)
}

// CheckoutLockKey 标记 (user, Idempotency-Key) 的下单请求正在处理。
func CheckoutLockKey(prefix string, userID uint, idemKey string) string {
	return fmt.Sprintf("%scheckout:lock:%d:%s", prefix, userID, idemKey)
}

// CheckoutStateKey 存储 (user, Idempotency-Key) 的处理结果。
func CheckoutStateKey(prefix string, userID uint, idemKey string) string {
	return fmt.Sprintf("%scheckout:state:%d:%s", prefix, userID, idemKey)
}

// RateLimitKey 滑动窗口限流，subject 为 "user:<id>" 或 "ip:<addr>"。
func RateLimitKey(prefix, scope, subject string) string {
	return fmt.Sprintf("%srate_limit:%s:%s", prefix, scope, subject)
}
