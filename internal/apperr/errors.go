// Package apperr 定义核心业务的错误分类，HTTP 层据此映射状态码。
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound 引用的商品/订单/地址/服务不存在。
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock 库存比较失败，仅在下单被拒时作为原因返回。
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition 订单或支付状态迁移不在允许表内。
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrLockTimeout 行锁等待超过存储层超时，本层不重试。
	ErrLockTimeout = errors.New("lock wait timeout")
	// ErrForbidden 调用方不具备所需权限。
	ErrForbidden = errors.New("forbidden")
)

const (
	// pgLockNotAvailable 是 postgres lock_timeout 触发时的 SQLSTATE。
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// ValidationError 业务规则校验失败，Message 直接面向用户展示。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation 构造字段级校验错误。
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsValidation 判断错误链中是否含 ValidationError。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Classify 将存储层错误归类到本包哨兵错误，保留原始错误便于排查。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLockTimeout) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if isLockTimeout(err) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}

func isLockTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return true
	}
	// sqlite 只有字符串可判断
	return strings.Contains(err.Error(), "database is locked")
}

// IsUniqueViolation 唯一索引冲突，调用方通常转换为 ValidationError。
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
