package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// OrderStatus 订单履约状态
type OrderStatus string

const (
	OrderPending      OrderStatus = "pending"
	OrderConfirmed    OrderStatus = "confirmed"
	OrderInProduction OrderStatus = "in_production"
	OrderReady        OrderStatus = "ready"
	OrderShipped      OrderStatus = "shipped"
	OrderDelivered    OrderStatus = "delivered"
	OrderCancelled    OrderStatus = "cancelled"
)

// Valid 是否为已知状态
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderInProduction, OrderReady,
		OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Terminal 终态后不再允许任何迁移。
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// PaymentStatus 支付状态，与履约状态独立推进。
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentRefunded, PaymentCancelled:
		return true
	}
	return false
}

// Order 订单是历史记录，正常流程中不做物理删除。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID            uint          `gorm:"not null;index" json:"user_id"`
	Status            OrderStatus   `gorm:"size:20;not null;index" json:"status"`
	PaymentStatus     PaymentStatus `gorm:"size:20;not null" json:"payment_status"`
	TotalAmount       int64         `gorm:"not null" json:"total_amount"` // 单位：分
	DeliveryMethodID  uint          `gorm:"not null" json:"delivery_method_id"`
	DeliveryAddressID uint          `gorm:"not null" json:"delivery_address_id"`
	PaymentMethodID   uint          `gorm:"not null" json:"payment_method_id"`
	Notes             string        `gorm:"type:text" json:"notes"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (Order) TableName() string { return "orders" }

// OrderItem 订单行。Price 是下单瞬间的单价快照，写入后不再变化。
type OrderItem struct {
	ID        uint `gorm:"primarykey" json:"id"`
	OrderID   uint `gorm:"not null;index" json:"order_id"`
	ProductID uint `gorm:"not null;index" json:"product_id"`
	// 被订单引用的商品禁止删除
	Product             *Product           `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	Quantity            int                `gorm:"not null;check:chk_order_items_quantity,quantity >= 1" json:"quantity"`
	Price               int64              `gorm:"not null" json:"price"`
	PersonalizationText string             `gorm:"size:127" json:"personalization_text"`
	Services            []OrderItemService `gorm:"foreignKey:OrderItemID;constraint:OnDelete:CASCADE" json:"services,omitempty"`
}

func (OrderItem) TableName() string { return "order_items" }

// OrderItemService 订单行上附加的服务，同样快照价格。
type OrderItemService struct {
	ID          uint     `gorm:"primarykey" json:"id"`
	OrderItemID uint     `gorm:"not null;index" json:"order_item_id"`
	ServiceID   uint     `gorm:"not null;index" json:"service_id"`
	Service     *Service `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	Price       int64    `gorm:"not null" json:"price"`
	Details     string   `gorm:"size:255" json:"details"`
}

func (OrderItemService) TableName() string { return "order_item_services" }

// ErrHistoryImmutable 状态历史只追加，不允许改写或删除。
var ErrHistoryImmutable = errors.New("order status history is append-only")

// OrderStatusHistory 订单状态变更审计，按 created_at 倒序读取。
type OrderStatusHistory struct {
	ID             uint        `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time   `gorm:"index" json:"created_at"`
	OrderID        uint        `gorm:"not null;index" json:"order_id"`
	PreviousStatus OrderStatus `gorm:"size:20" json:"previous_status,omitempty"`
	Status         OrderStatus `gorm:"size:20;not null" json:"status"`
	Comment        string      `gorm:"type:text" json:"comment"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }

func (OrderStatusHistory) BeforeUpdate(*gorm.DB) error { return ErrHistoryImmutable }

func (OrderStatusHistory) BeforeDelete(*gorm.DB) error { return ErrHistoryImmutable }
