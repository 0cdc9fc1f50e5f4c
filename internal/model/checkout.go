package model

import "github.com/shopspring/decimal"

// PaymentMethod 支付方式及手续费配置。
type PaymentMethod struct {
	ID                   uint            `gorm:"primarykey" json:"id"`
	Name                 string          `gorm:"size:255;not null" json:"name"`
	Code                 string          `gorm:"size:255;uniqueIndex;not null" json:"code"`
	Description          string          `gorm:"type:text" json:"description"`
	IsActive             bool            `gorm:"not null" json:"is_active"`
	ProcessingFeePercent decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"processing_fee_percent"`
	ProcessingFeeFixed   int64           `gorm:"not null;default:0" json:"processing_fee_fixed"`
	SortOrder            int             `gorm:"not null;default:0" json:"sort_order"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

// Fee 按 subtotal 计算手续费：固定部分 + 百分比部分（四舍五入到分）。
func (m PaymentMethod) Fee(subtotal int64) int64 {
	pct := decimal.NewFromInt(subtotal).
		Mul(m.ProcessingFeePercent).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return m.ProcessingFeeFixed + pct.IntPart()
}

// DeliveryMethod 配送方式
type DeliveryMethod struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	Name        string `gorm:"size:255;not null" json:"name"`
	Price       int64  `gorm:"not null" json:"price"`
	Description string `gorm:"type:text" json:"description"`
	IsActive    bool   `gorm:"not null" json:"is_active"`
}

func (DeliveryMethod) TableName() string { return "delivery_methods" }
