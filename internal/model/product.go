package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category 商品分类
type Category struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Slug        string `gorm:"size:255;uniqueIndex;not null" json:"slug"`
}

func (Category) TableName() string { return "categories" }

// Product 卖家上架的商品。StockQuantity 只允许经由 inventory.Ledger 修改。
type Product struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string `gorm:"size:127;not null" json:"name"`
	Description string `gorm:"size:127" json:"description"`
	// 价格单位：分；DiscountPrice 为 0 表示无折扣
	BasePrice     int64 `gorm:"not null" json:"base_price"`
	DiscountPrice int64 `gorm:"not null;default:0" json:"discount_price"`
	// IsUnique 为 true 时库存只有“有/无”两种语义
	IsUnique      bool  `gorm:"not null" json:"is_unique"`
	StockQuantity int64 `gorm:"not null;default:0;check:chk_products_stock,stock_quantity >= 0" json:"stock_quantity"`
	IsActive      bool  `gorm:"not null;index" json:"is_active"`

	CategoryID            *uint           `gorm:"index" json:"category_id,omitempty"`
	ManufacturingTimeDays int             `gorm:"not null;default:0" json:"manufacturing_time_days"`
	Materials             string          `gorm:"size:255" json:"materials"`
	Weight                decimal.Decimal `gorm:"type:decimal(7,2)" json:"weight"`
	Size                  decimal.Decimal `gorm:"type:decimal(7,2)" json:"size"`
}

func (Product) TableName() string { return "products" }

// EffectivePrice 下单时快照的单价：有效折扣价优先。
func (p Product) EffectivePrice() int64 {
	if p.DiscountPrice > 0 && p.DiscountPrice < p.BasePrice {
		return p.DiscountPrice
	}
	return p.BasePrice
}

// Available 判断商品能否满足 quantity 件的需求。
// 唯一商品不可拆分，只看是否还有库存。
func (p Product) Available(quantity int64) bool {
	if !p.IsActive {
		return false
	}
	if p.IsUnique {
		return p.StockQuantity > 0
	}
	return p.StockQuantity >= quantity
}

// Service 可附加到订单行的增值服务（刻字、包装等）。
type Service struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Price       int64  `gorm:"not null" json:"price"`
	IsActive    bool   `gorm:"not null" json:"is_active"`
}

func (Service) TableName() string { return "services" }

// Review 商品评价，(product_id, user_id) 唯一。
type Review struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ProductID  uint      `gorm:"not null;uniqueIndex:idx_reviews_product_user" json:"product_id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_reviews_product_user;index" json:"user_id"`
	Rating     int       `gorm:"not null" json:"rating"`
	Comment    string    `gorm:"type:text" json:"comment"`
	IsVerified bool      `gorm:"not null" json:"is_verified"`
}

func (Review) TableName() string { return "reviews" }
