// Package order 负责下单与订单状态流转。
//
// 下单在一个事务内依次扣减每个订单行的库存，任何一行失败则整体回滚：
// 不留订单、订单行，也不留部分扣减。
package order

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"storefront/internal/apperr"
	"storefront/internal/catalog"
	"storefront/internal/inventory"
	"storefront/internal/model"
	"storefront/internal/queue"
	"storefront/internal/store"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const maxPersonalizationLen = 127

// Notifier 下单成功后的通知出口，失败不影响订单。
type Notifier interface {
	Notify(ctx context.Context, t queue.Task)
}

// LineItem 一个订单行
type LineItem struct {
	ProductID           uint
	Quantity            int
	PersonalizationText string
	ServiceIDs          []uint
}

type PlaceOrderInput struct {
	UserID            uint
	Items             []LineItem
	DeliveryMethodID  uint
	DeliveryAddressID uint
	PaymentMethodID   uint
	Notes             string
}

// RejectedError 下单因某个商品无法满足而被拒绝。
type RejectedError struct {
	ProductID uint
	Err       error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("product %d: %v", e.ProductID, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

type Lifecycle struct {
	db          *gorm.DB
	ledger      *inventory.Ledger
	notifier    Notifier
	lockTimeout time.Duration
	log         zerolog.Logger
}

func NewLifecycle(db *gorm.DB, ledger *inventory.Ledger, notifier Notifier, lockTimeout time.Duration, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		db:          db,
		ledger:      ledger,
		notifier:    notifier,
		lockTimeout: lockTimeout,
		log:         log.With().Str("component", "order_lifecycle").Logger(),
	}
}

// PlaceOrder 原子地扣库存并落订单。
// 订单行按商品 ID 升序加锁，两个订单包含相同商品时不会互相死锁。
func (l *Lifecycle) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*model.Order, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	items := slices.Clone(in.Items)
	slices.SortFunc(items, func(a, b LineItem) int { return cmp.Compare(a.ProductID, b.ProductID) })

	var (
		order *model.Order
		user  model.User
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, in.UserID).Error; err != nil {
			return err
		}
		dm, pm, err := l.checkoutMethods(tx, in)
		if err != nil {
			return err
		}

		ledger := l.ledger.WithTx(tx)
		lines := make([]model.OrderItem, 0, len(items))
		var subtotal int64
		for _, it := range items {
			line, err := l.reserveLine(ctx, tx, ledger, it)
			if err != nil {
				return err
			}
			subtotal += line.Price * int64(line.Quantity)
			for _, s := range line.Services {
				subtotal += s.Price * int64(line.Quantity)
			}
			lines = append(lines, line)
		}

		order = &model.Order{
			UserID:            in.UserID,
			Status:            model.OrderPending,
			PaymentStatus:     model.PaymentPending,
			TotalAmount:       subtotal + dm.Price + pm.Fee(subtotal),
			DeliveryMethodID:  dm.ID,
			DeliveryAddressID: in.DeliveryAddressID,
			PaymentMethodID:   pm.ID,
			Notes:             in.Notes,
			Items:             lines,
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return tx.Create(&model.OrderStatusHistory{
			OrderID: order.ID,
			Status:  model.OrderPending,
			Comment: "Order created",
		}).Error
	})
	if err != nil {
		err = apperr.Classify(err)
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			l.log.Info().Uint("user_id", in.UserID).Uint("product_id", rejected.ProductID).Err(rejected.Err).Msg("order rejected")
		}
		return nil, err
	}

	l.log.Info().
		Uint("order_id", order.ID).
		Uint("user_id", order.UserID).
		Int("lines", len(order.Items)).
		Int64("total", order.TotalAmount).
		Msg("order placed")

	if l.notifier != nil {
		t := queue.NewTask(queue.KindOrderPlaced, user.Email, user.FullName())
		t.OrderID = order.ID
		l.notifier.Notify(ctx, t)
	}
	return order, nil
}

func (l *Lifecycle) checkoutMethods(tx *gorm.DB, in PlaceOrderInput) (*model.DeliveryMethod, *model.PaymentMethod, error) {
	var addr model.UserAddress
	if err := tx.First(&addr, in.DeliveryAddressID).Error; err != nil {
		return nil, nil, err
	}
	if addr.UserID != in.UserID {
		return nil, nil, apperr.Validation("delivery_address_id", "address does not belong to user")
	}

	var dm model.DeliveryMethod
	if err := tx.First(&dm, in.DeliveryMethodID).Error; err != nil {
		return nil, nil, err
	}
	if !dm.IsActive {
		return nil, nil, apperr.Validation("delivery_method_id", "delivery method is not available")
	}

	var pm model.PaymentMethod
	if err := tx.First(&pm, in.PaymentMethodID).Error; err != nil {
		return nil, nil, err
	}
	if !pm.IsActive {
		return nil, nil, apperr.Validation("payment_method_id", "payment method is not available")
	}
	return &dm, &pm, nil
}

// reserveLine 先做商品级校验，再扣减库存，最后在行锁下读取单价做快照。
func (l *Lifecycle) reserveLine(ctx context.Context, tx *gorm.DB, ledger *inventory.Ledger, it LineItem) (model.OrderItem, error) {
	var p model.Product
	if err := tx.Select("id", "is_unique", "is_active").First(&p, it.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.OrderItem{}, &RejectedError{ProductID: it.ProductID, Err: apperr.ErrNotFound}
		}
		return model.OrderItem{}, err
	}
	if p.IsUnique && it.Quantity != 1 {
		return model.OrderItem{}, apperr.Validation("quantity", fmt.Sprintf("unique product %d can only be ordered once", p.ID))
	}
	if !p.IsActive {
		return model.OrderItem{}, &RejectedError{ProductID: p.ID, Err: apperr.ErrInsufficientStock}
	}

	ok, err := ledger.DecreaseStock(ctx, it.ProductID, int64(it.Quantity))
	if err != nil {
		return model.OrderItem{}, err
	}
	if !ok {
		return model.OrderItem{}, &RejectedError{ProductID: it.ProductID, Err: apperr.ErrInsufficientStock}
	}
	p = model.Product{}
	if err := tx.First(&p, it.ProductID).Error; err != nil {
		return model.OrderItem{}, err
	}

	services, err := catalog.LoadActiveServices(tx, it.ServiceIDs)
	if err != nil {
		return model.OrderItem{}, err
	}
	line := model.OrderItem{
		ProductID:           p.ID,
		Quantity:            it.Quantity,
		Price:               p.EffectivePrice(),
		PersonalizationText: it.PersonalizationText,
	}
	for _, s := range services {
		line.Services = append(line.Services, model.OrderItemService{ServiceID: s.ID, Price: s.Price})
	}
	return line, nil
}

func validateInput(in PlaceOrderInput) error {
	if in.UserID == 0 {
		return apperr.Validation("user_id", "is required")
	}
	if len(in.Items) == 0 {
		return apperr.Validation("items", "order must contain at least one item")
	}
	seen := make(map[uint]struct{}, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return apperr.Validation("quantity", "must be at least 1")
		}
		if _, dup := seen[it.ProductID]; dup {
			return apperr.Validation("items", fmt.Sprintf("product %d appears more than once", it.ProductID))
		}
		seen[it.ProductID] = struct{}{}
		if utf8.RuneCountInString(it.PersonalizationText) > maxPersonalizationLen {
			return apperr.Validation("personalization_text", "must be at most 127 characters")
		}
	}
	return nil
}

// TransitionStatus 校验迁移表后写状态并追加一条历史，二者同事务。
// 取消时把每个订单行的数量退回库存。
func (l *Lifecycle) TransitionStatus(ctx context.Context, orderID uint, to model.OrderStatus, comment string) (*model.Order, error) {
	if !to.Valid() {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown order status %q", to))
	}

	var from model.OrderStatus
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := l.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if !CanTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, o.Status, to)
		}
		if to == model.OrderDelivered && o.PaymentStatus != model.PaymentPaid {
			return fmt.Errorf("%w: order %d is not paid", apperr.ErrInvalidTransition, o.ID)
		}

		updates := map[string]interface{}{"status": to}
		if to == model.OrderCancelled {
			if err := l.restock(ctx, tx, o.ID); err != nil {
				return err
			}
			if o.PaymentStatus == model.PaymentPending {
				updates["payment_status"] = model.PaymentCancelled
			}
		}
		if err := tx.Model(&model.Order{}).Where("id = ?", o.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Create(&model.OrderStatusHistory{
			OrderID:        o.ID,
			PreviousStatus: from,
			Status:         to,
			Comment:        comment,
		}).Error
	})
	if err != nil {
		return nil, apperr.Classify(err)
	}

	l.log.Info().Uint("order_id", orderID).Str("from", string(from)).Str("to", string(to)).Msg("order status changed")
	return l.Get(ctx, orderID)
}

// SetPaymentStatus 支付状态独立推进，受订单状态约束。
func (l *Lifecycle) SetPaymentStatus(ctx context.Context, orderID uint, to model.PaymentStatus) (*model.Order, error) {
	if !to.Valid() {
		return nil, apperr.Validation("payment_status", fmt.Sprintf("unknown payment status %q", to))
	}

	var from model.PaymentStatus
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := l.lockOrder(tx, orderID)
		if err != nil {
			return err
		}
		from = o.PaymentStatus
		if !CanTransitionPayment(o.PaymentStatus, to) {
			return fmt.Errorf("%w: payment %s -> %s", apperr.ErrInvalidTransition, o.PaymentStatus, to)
		}
		switch {
		case to == model.PaymentPaid && o.Status == model.OrderCancelled:
			return fmt.Errorf("%w: order %d is cancelled", apperr.ErrInvalidTransition, o.ID)
		case to == model.PaymentRefunded && o.Status != model.OrderCancelled && o.Status != model.OrderDelivered:
			return fmt.Errorf("%w: refund requires a cancelled or delivered order", apperr.ErrInvalidTransition)
		}
		return tx.Model(&model.Order{}).Where("id = ?", o.ID).Update("payment_status", to).Error
	})
	if err != nil {
		return nil, apperr.Classify(err)
	}

	l.log.Info().Uint("order_id", orderID).Str("from", string(from)).Str("to", string(to)).Msg("payment status changed")
	return l.Get(ctx, orderID)
}

func (l *Lifecycle) lockOrder(tx *gorm.DB, orderID uint) (*model.Order, error) {
	if err := store.SetLockTimeout(tx, l.lockTimeout); err != nil {
		return nil, err
	}
	var o model.Order
	if err := store.ForUpdate(tx).First(&o, orderID).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (l *Lifecycle) restock(ctx context.Context, tx *gorm.DB, orderID uint) error {
	var items []model.OrderItem
	if err := tx.Where("order_id = ?", orderID).Order("product_id").Find(&items).Error; err != nil {
		return err
	}
	ledger := l.ledger.WithTx(tx)
	for _, it := range items {
		if _, err := ledger.UpdateStock(ctx, it.ProductID, inventory.ActionAdd, int64(it.Quantity)); err != nil {
			return err
		}
	}
	return nil
}

// Get 订单连同订单行与附加服务。
func (l *Lifecycle) Get(ctx context.Context, orderID uint) (*model.Order, error) {
	var o model.Order
	err := l.db.WithContext(ctx).Preload("Items.Services").First(&o, orderID).Error
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return &o, nil
}

// History 按时间倒序，同一时刻按 id 倒序。
func (l *Lifecycle) History(ctx context.Context, orderID uint) ([]model.OrderStatusHistory, error) {
	db := l.db.WithContext(ctx)
	var n int64
	if err := db.Model(&model.Order{}).Where("id = ?", orderID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
	}
	var rows []model.OrderStatusHistory
	err := db.Where("order_id = ?", orderID).
		Order("created_at DESC").Order("id DESC").
		Find(&rows).Error
	return rows, err
}

func (l *Lifecycle) ListByUser(ctx context.Context, userID uint) ([]model.Order, error) {
	var list []model.Order
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&list).Error
	return list, err
}

// ListAll 管理端查看全部订单，可按状态过滤。
func (l *Lifecycle) ListAll(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	q := l.db.WithContext(ctx).Model(&model.Order{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []model.Order
	err := q.Order("created_at DESC").Order("id DESC").Find(&list).Error
	return list, err
}
