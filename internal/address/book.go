// Package address 维护“每个用户恰有一个默认收货地址”的不变量。
package address

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"storefront/internal/apperr"
	"storefront/internal/model"
	"storefront/internal/store"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const maxTitleLen = 127

// AddressInput 新建地址参数
type AddressInput struct {
	Title     string
	Address   string
	IsDefault bool
}

// AddressUpdate 局部更新，nil 字段保持原值。
type AddressUpdate struct {
	Title     *string
	Address   *string
	IsDefault *bool
}

type Book struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewBook(db *gorm.DB, log zerolog.Logger) *Book {
	return &Book{db: db, log: log.With().Str("component", "address_book").Logger()}
}

// List 默认地址在前，其余按标题排序。
func (b *Book) List(ctx context.Context, userID uint) ([]model.UserAddress, error) {
	var list []model.UserAddress
	err := b.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC").Order("title ASC").
		Find(&list).Error
	return list, err
}

// Get 不存在时返回 ErrNotFound。
func (b *Book) Get(ctx context.Context, id uint) (*model.UserAddress, error) {
	var a model.UserAddress
	if err := b.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, apperr.Classify(err)
	}
	return &a, nil
}

// Default 用户尚无地址时返回 ErrNotFound。
func (b *Book) Default(ctx context.Context, userID uint) (*model.UserAddress, error) {
	var a model.UserAddress
	err := b.db.WithContext(ctx).Where("user_id = ? AND is_default = ?", userID, true).First(&a).Error
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return &a, nil
}

// IsOwner 归属校验由调用方在边界处完成。
func IsOwner(a *model.UserAddress, userID uint) bool {
	return a != nil && a.UserID == userID
}

// Create 用户的第一个地址自动成为默认；显式默认会在同一事务内清掉旧默认。
func (b *Book) Create(ctx context.Context, userID uint, in AddressInput) (*model.UserAddress, error) {
	title, addr := strings.TrimSpace(in.Title), strings.TrimSpace(in.Address)
	if err := validate(title, addr); err != nil {
		return nil, err
	}

	var created *model.UserAddress
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOwner(tx, userID); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&model.UserAddress{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		isDefault := in.IsDefault || count == 0
		if isDefault {
			if err := clearDefault(tx, userID); err != nil {
				return err
			}
		}
		created = &model.UserAddress{UserID: userID, Title: title, Address: addr, IsDefault: isDefault}
		return tx.Create(created).Error
	})
	if err != nil {
		return nil, apperr.Classify(err)
	}

	b.log.Info().Uint("user_id", userID).Uint("address_id", created.ID).Bool("default", created.IsDefault).Msg("address created")
	return created, nil
}

// Update 把 is_default 置为 true 时在同一事务内转移默认标记。
// 对当前默认地址传 is_default=false 会被忽略，避免出现零默认。
func (b *Book) Update(ctx context.Context, id uint, upd AddressUpdate) (*model.UserAddress, error) {
	var out *model.UserAddress
	err := b.mutate(ctx, id, func(tx *gorm.DB, a *model.UserAddress) error {
		if upd.Title != nil {
			a.Title = strings.TrimSpace(*upd.Title)
		}
		if upd.Address != nil {
			a.Address = strings.TrimSpace(*upd.Address)
		}
		if err := validate(a.Title, a.Address); err != nil {
			return err
		}
		if upd.IsDefault != nil && *upd.IsDefault && !a.IsDefault {
			if err := clearDefault(tx, a.UserID); err != nil {
				return err
			}
			a.IsDefault = true
		}
		out = a
		return tx.Save(a).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetDefault 显式指定默认地址。
func (b *Book) SetDefault(ctx context.Context, id uint) (*model.UserAddress, error) {
	var out *model.UserAddress
	err := b.mutate(ctx, id, func(tx *gorm.DB, a *model.UserAddress) error {
		if err := clearDefault(tx, a.UserID); err != nil {
			return err
		}
		a.IsDefault = true
		out = a
		return tx.Save(a).Error
	})
	if err != nil {
		return nil, err
	}
	b.log.Info().Uint("user_id", out.UserID).Uint("address_id", out.ID).Msg("default address changed")
	return out, nil
}

// Delete 删除默认地址时，提升剩余地址中 id 最小的一条为默认。
// 地址不存在返回 false, nil。
func (b *Book) Delete(ctx context.Context, id uint) (bool, error) {
	err := b.mutate(ctx, id, func(tx *gorm.DB, a *model.UserAddress) error {
		if err := tx.Delete(a).Error; err != nil {
			return err
		}
		if !a.IsDefault {
			return nil
		}
		var next model.UserAddress
		err := tx.Where("user_id = ?", a.UserID).Order("id ASC").Limit(1).Find(&next).Error
		if err != nil {
			return err
		}
		if next.ID == 0 {
			return nil
		}
		return tx.Model(&next).Update("is_default", true).Error
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b.log.Info().Uint("address_id", id).Msg("address deleted")
	return true, nil
}

// mutate 先定位地址所属用户，锁住用户行后在锁内重读地址再执行 fn。
func (b *Book) mutate(ctx context.Context, id uint, fn func(tx *gorm.DB, a *model.UserAddress) error) error {
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.UserAddress
		if err := tx.Select("id", "user_id").First(&row, id).Error; err != nil {
			return err
		}
		if err := lockOwner(tx, row.UserID); err != nil {
			return err
		}
		var a model.UserAddress
		if err := tx.First(&a, id).Error; err != nil {
			return err
		}
		return fn(tx, &a)
	})
	return apperr.Classify(err)
}

// lockOwner 锁住用户行，串行化同一用户的所有地址写操作。
func lockOwner(tx *gorm.DB, userID uint) error {
	var u model.User
	return store.ForUpdate(tx).Select("id").First(&u, userID).Error
}

func clearDefault(tx *gorm.DB, userID uint) error {
	return tx.Model(&model.UserAddress{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error
}

func validate(title, addr string) error {
	if title == "" {
		return apperr.Validation("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return apperr.Validation("title", "must be at most 127 characters")
	}
	if addr == "" {
		return apperr.Validation("address", "must not be empty")
	}
	return nil
}
