// Package inventory 是商品库存的唯一写入口。
//
// 所有扣减/调整都在一个短事务里完成“加行锁 → 比较 → 写回”，
// 两个并发扣减同一商品时由行锁线性化，后者看到前者已提交的值。
package inventory

import (
	"context"
	"fmt"
	"math"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/model"
	"storefront/internal/store"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// StockAction 库存调整方式
type StockAction string

const (
	ActionAdd      StockAction = "add"
	ActionSubtract StockAction = "subtract"
	ActionSet      StockAction = "set"
)

// ParseStockAction 在边界处拒绝未知动作。
func ParseStockAction(s string) (StockAction, error) {
	switch a := StockAction(s); a {
	case ActionAdd, ActionSubtract, ActionSet:
		return a, nil
	}
	return "", apperr.Validation("action", fmt.Sprintf("unknown stock action %q", s))
}

type Ledger struct {
	db          *gorm.DB
	lockTimeout time.Duration
	log         zerolog.Logger
}

func NewLedger(db *gorm.DB, lockTimeout time.Duration, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:          db,
		lockTimeout: lockTimeout,
		log:         log.With().Str("component", "stock_ledger").Logger(),
	}
}

// WithTx 返回绑定到外层事务的 Ledger，内部事务退化为 savepoint，
// 行锁一直持有到外层事务结束。
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	c := *l
	c.db = tx
	return &c
}

// CheckAvailability 只读检查，不加锁。
// 商品不存在返回 ErrNotFound；已下架返回 false。
func (l *Ledger) CheckAvailability(ctx context.Context, productID uint, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, apperr.Validation("quantity", "must be positive")
	}
	var p model.Product
	err := l.db.WithContext(ctx).
		Select("id", "stock_quantity", "is_unique", "is_active").
		First(&p, productID).Error
	if err != nil {
		return false, apperr.Classify(err)
	}
	return p.Available(quantity), nil
}

// Stock 读取当前库存。
func (l *Ledger) Stock(ctx context.Context, productID uint) (int64, error) {
	var p model.Product
	if err := l.db.WithContext(ctx).Select("id", "stock_quantity").First(&p, productID).Error; err != nil {
		return 0, apperr.Classify(err)
	}
	return p.StockQuantity, nil
}

// DecreaseStock 加锁后比较并扣减。
// 库存不足返回 false 且不改动库存；这是常见结果，不是错误。
func (l *Ledger) DecreaseStock(ctx context.Context, productID uint, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, apperr.Validation("quantity", "must be positive")
	}

	var (
		ok    bool
		after int64
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := l.lockProduct(tx, productID)
		if err != nil {
			return err
		}
		if p.StockQuantity < quantity {
			after = p.StockQuantity
			return nil
		}
		after = p.StockQuantity - quantity
		if err := writeStock(tx, p.ID, after); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, apperr.Classify(err)
	}

	l.log.Debug().
		Uint("product_id", productID).
		Int64("quantity", quantity).
		Int64("stock", after).
		Bool("decreased", ok).
		Msg("decrease stock")
	return ok, nil
}

// UpdateStock 卖家/管理员调整库存，subtract 在 0 处截断。
func (l *Ledger) UpdateStock(ctx context.Context, productID uint, action StockAction, quantity int64) (int64, error) {
	if quantity < 0 {
		return 0, apperr.Validation("quantity", "must not be negative")
	}
	if _, err := ParseStockAction(string(action)); err != nil {
		return 0, err
	}

	var after int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := l.lockProduct(tx, productID)
		if err != nil {
			return err
		}
		switch action {
		case ActionAdd:
			if quantity > math.MaxInt64-p.StockQuantity {
				return apperr.Validation("quantity", "stock would overflow")
			}
			after = p.StockQuantity + quantity
		case ActionSubtract:
			after = max(0, p.StockQuantity-quantity)
		case ActionSet:
			after = quantity
		}
		return writeStock(tx, p.ID, after)
	})
	if err != nil {
		return 0, apperr.Classify(err)
	}

	l.log.Info().
		Uint("product_id", productID).
		Str("action", string(action)).
		Int64("quantity", quantity).
		Int64("stock", after).
		Msg("stock updated")
	return after, nil
}

// lockProduct 在事务内对商品行加排他锁。
func (l *Ledger) lockProduct(tx *gorm.DB, productID uint) (*model.Product, error) {
	if err := store.SetLockTimeout(tx, l.lockTimeout); err != nil {
		return nil, err
	}
	var p model.Product
	if err := store.ForUpdate(tx).First(&p, productID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func writeStock(tx *gorm.DB, productID uint, stock int64) error {
	return tx.Model(&model.Product{}).
		Where("id = ?", productID).
		Update("stock_quantity", stock).Error
}
