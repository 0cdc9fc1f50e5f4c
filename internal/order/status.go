package order

import "storefront/internal/model"

// 履约状态逐级推进；取消可从任一非终态发起。
var statusTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderPending:      {model.OrderConfirmed, model.OrderCancelled},
	model.OrderConfirmed:    {model.OrderInProduction, model.OrderCancelled},
	model.OrderInProduction: {model.OrderReady, model.OrderCancelled},
	model.OrderReady:        {model.OrderShipped, model.OrderCancelled},
	model.OrderShipped:      {model.OrderDelivered, model.OrderCancelled},
}

var paymentTransitions = map[model.PaymentStatus][]model.PaymentStatus{
	model.PaymentPending: {model.PaymentPaid, model.PaymentCancelled},
	model.PaymentPaid:    {model.PaymentRefunded},
}

// CanTransition 只查迁移表，不含与支付状态相关的约束。
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanTransitionPayment(from, to model.PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
