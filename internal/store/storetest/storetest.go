// Package storetest 为各包测试提供内存 SQLite 与常用夹具。
package storetest

import (
	"fmt"
	"testing"

	"storefront/internal/model"
	"storefront/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB 打开已建表的内存库，测试结束自动关闭。
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func User(t testing.TB, db *gorm.DB, role model.Role) *model.User {
	t.Helper()
	tag := uuid.NewString()[:8]
	u := &model.User{
		Username:   "user-" + tag,
		Email:      fmt.Sprintf("%s@example.com", tag),
		FirstName:  "Test",
		LastName:   tag,
		Role:       role,
		IsActive:   true,
		IsVerified: true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// Product 创建上架商品，单价 1000 分。
func Product(t testing.TB, db *gorm.DB, stock int64, unique bool) *model.Product {
	t.Helper()
	p := &model.Product{
		Name:          "Vase " + uuid.NewString()[:6],
		Description:   "hand made",
		BasePrice:     1000,
		IsUnique:      unique,
		StockQuantity: stock,
		IsActive:      true,
		Materials:     "clay",
		Weight:        decimal.RequireFromString("1.25"),
		Size:          decimal.RequireFromString("20.00"),
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func Service(t testing.TB, db *gorm.DB, price int64) *model.Service {
	t.Helper()
	s := &model.Service{Name: "Engraving", Description: "custom text", Price: price, IsActive: true}
	require.NoError(t, db.Create(s).Error)
	return s
}

// Address 直接写库，不经过地址簿的不变量维护。
func Address(t testing.TB, db *gorm.DB, userID uint, title string, isDefault bool) *model.UserAddress {
	t.Helper()
	a := &model.UserAddress{UserID: userID, Title: title, Address: title + " street 1", IsDefault: isDefault}
	require.NoError(t, db.Create(a).Error)
	return a
}

// CheckoutMethods 创建一个配送方式（300 分）和一个支付方式（1% + 50 分）。
func CheckoutMethods(t testing.TB, db *gorm.DB) (*model.DeliveryMethod, *model.PaymentMethod) {
	t.Helper()
	dm := &model.DeliveryMethod{Name: "Courier", Price: 300, Description: "door to door", IsActive: true}
	require.NoError(t, db.Create(dm).Error)
	pm := &model.PaymentMethod{
		Name:                 "Card",
		Code:                 "card-" + uuid.NewString()[:6],
		IsActive:             true,
		ProcessingFeePercent: decimal.RequireFromString("1.00"),
		ProcessingFeeFixed:   50,
	}
	require.NoError(t, db.Create(pm).Error)
	return dm, pm
}

// Stock 读取当前库存
func Stock(t testing.TB, db *gorm.DB, productID uint) int64 {
	t.Helper()
	var p model.Product
	require.NoError(t, db.First(&p, productID).Error)
	return p.StockQuantity
}
