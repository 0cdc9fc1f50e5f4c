package order

import (
	"testing"

	"storefront/internal/model"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	forward := []model.OrderStatus{
		model.OrderPending, model.OrderConfirmed, model.OrderInProduction,
		model.OrderReady, model.OrderShipped, model.OrderDelivered,
	}
	for i := 0; i+1 < len(forward); i++ {
		require.True(t, CanTransition(forward[i], forward[i+1]), "%s -> %s", forward[i], forward[i+1])
		require.True(t, CanTransition(forward[i], model.OrderCancelled), "%s -> cancelled", forward[i])
		require.False(t, CanTransition(forward[i], forward[i]), "%s -> itself", forward[i])
		require.False(t, CanTransition(forward[i+1], forward[i]), "%s -> %s", forward[i+1], forward[i])
	}

	require.False(t, CanTransition(model.OrderPending, model.OrderShipped))
	for _, s := range []model.OrderStatus{model.OrderDelivered, model.OrderCancelled} {
		for _, to := range append(forward, model.OrderCancelled) {
			require.False(t, CanTransition(s, to), "%s is terminal", s)
		}
	}
}

func TestCanTransitionPayment(t *testing.T) {
	require.True(t, CanTransitionPayment(model.PaymentPending, model.PaymentPaid))
	require.True(t, CanTransitionPayment(model.PaymentPending, model.PaymentCancelled))
	require.True(t, CanTransitionPayment(model.PaymentPaid, model.PaymentRefunded))

	require.False(t, CanTransitionPayment(model.PaymentPending, model.PaymentRefunded))
	require.False(t, CanTransitionPayment(model.PaymentPaid, model.PaymentCancelled))
	require.False(t, CanTransitionPayment(model.PaymentRefunded, model.PaymentPaid))
	require.False(t, CanTransitionPayment(model.PaymentCancelled, model.PaymentPaid))
}
