package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storefront/internal/apperr"
	"storefront/internal/inventory"
	"storefront/internal/model"
	"storefront/internal/queue"
	"storefront/internal/store/storetest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (n *recordingNotifier) Notify(_ context.Context, t queue.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, t)
}

type LifecycleTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	lc       *Lifecycle
	notifier *recordingNotifier

	user     *model.User
	address  *model.UserAddress
	delivery *model.DeliveryMethod
	payment  *model.PaymentMethod
}

func (s *LifecycleTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = storetest.NewDB(s.T())
	s.notifier = &recordingNotifier{}
	ledger := inventory.NewLedger(s.db, 0, zerolog.Nop())
	s.lc = NewLifecycle(s.db, ledger, s.notifier, 0, zerolog.Nop())

	s.user = storetest.User(s.T(), s.db, model.RoleCustomer)
	s.address = storetest.Address(s.T(), s.db, s.user.ID, "Home", true)
	s.delivery, s.payment = storetest.CheckoutMethods(s.T(), s.db)
}

func (s *LifecycleTestSuite) input(items ...LineItem) PlaceOrderInput {
	return PlaceOrderInput{
		UserID:            s.user.ID,
		Items:             items,
		DeliveryMethodID:  s.delivery.ID,
		DeliveryAddressID: s.address.ID,
		PaymentMethodID:   s.payment.ID,
	}
}

func (s *LifecycleTestSuite) count(m interface{}) int64 {
	var n int64
	s.Require().NoError(s.db.Model(m).Count(&n).Error)
	return n
}

func (s *LifecycleTestSuite) TestPlaceOrderSnapshotsPricesAndTotal() {
	p := storetest.Product(s.T(), s.db, 5, false)
	svc := storetest.Service(s.T(), s.db, 150)

	o, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 2, PersonalizationText: "Anna", ServiceIDs: []uint{svc.ID}}))
	s.Require().NoError(err)
	s.Require().Equal(model.OrderPending, o.Status)
	s.Require().Equal(model.PaymentPending, o.PaymentStatus)

	// 2*1000 + 2*150 = 2300；手续费 50 + 23；配送 300
	s.Require().EqualValues(2300+73+300, o.TotalAmount)
	s.Require().EqualValues(3, storetest.Stock(s.T(), s.db, p.ID))

	// 商品改价不影响已下单的快照
	s.Require().NoError(s.db.Model(p).Update("base_price", 5000).Error)
	s.Require().NoError(s.db.Model(svc).Update("price", 999).Error)

	got, err := s.lc.Get(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(got.Items, 1)
	s.Require().EqualValues(1000, got.Items[0].Price)
	s.Require().Equal("Anna", got.Items[0].PersonalizationText)
	s.Require().Len(got.Items[0].Services, 1)
	s.Require().EqualValues(150, got.Items[0].Services[0].Price)

	hist, err := s.lc.History(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(hist, 1)
	s.Require().Equal(model.OrderPending, hist[0].Status)

	s.Require().Len(s.notifier.tasks, 1)
	s.Require().Equal(queue.KindOrderPlaced, s.notifier.tasks[0].Kind)
	s.Require().Equal(o.ID, s.notifier.tasks[0].OrderID)
	s.Require().Equal(s.user.Email, s.notifier.tasks[0].Email)
}

func (s *LifecycleTestSuite) TestPlaceOrderUsesDiscountPrice() {
	p := storetest.Product(s.T(), s.db, 5, false)
	s.Require().NoError(s.db.Model(p).Update("discount_price", 800).Error)

	o, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().NoError(err)
	s.Require().EqualValues(800, o.Items[0].Price)
}

// 任一订单行库存不足时整单回滚
func (s *LifecycleTestSuite) TestPlaceOrderIsAtomic() {
	a := storetest.Product(s.T(), s.db, 5, false)
	b := storetest.Product(s.T(), s.db, 1, false)
	c := storetest.Product(s.T(), s.db, 5, false)

	_, err := s.lc.PlaceOrder(s.ctx, s.input(
		LineItem{ProductID: a.ID, Quantity: 2},
		LineItem{ProductID: b.ID, Quantity: 3},
		LineItem{ProductID: c.ID, Quantity: 1},
	))
	s.Require().ErrorIs(err, apperr.ErrInsufficientStock)
	var rejected *RejectedError
	s.Require().True(errors.As(err, &rejected))
	s.Require().Equal(b.ID, rejected.ProductID)

	s.Require().EqualValues(5, storetest.Stock(s.T(), s.db, a.ID))
	s.Require().EqualValues(1, storetest.Stock(s.T(), s.db, b.ID))
	s.Require().EqualValues(5, storetest.Stock(s.T(), s.db, c.ID))
	s.Require().Zero(s.count(&model.Order{}))
	s.Require().Zero(s.count(&model.OrderItem{}))
	s.Require().Zero(s.count(&model.OrderStatusHistory{}))
	s.Require().Empty(s.notifier.tasks)
}

func (s *LifecycleTestSuite) TestPlaceOrderUnknownProduct() {
	a := storetest.Product(s.T(), s.db, 5, false)
	_, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: a.ID, Quantity: 1}, LineItem{ProductID: 9999, Quantity: 1}))
	s.Require().ErrorIs(err, apperr.ErrNotFound)
	s.Require().EqualValues(5, storetest.Stock(s.T(), s.db, a.ID))
}

func (s *LifecycleTestSuite) TestPlaceOrderInactiveProductRejected() {
	p := storetest.Product(s.T(), s.db, 5, false)
	s.Require().NoError(s.db.Model(p).Update("is_active", false).Error)

	_, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().ErrorIs(err, apperr.ErrInsufficientStock)
	s.Require().EqualValues(5, storetest.Stock(s.T(), s.db, p.ID))
}

func (s *LifecycleTestSuite) TestPlaceOrderValidation() {
	p := storetest.Product(s.T(), s.db, 5, false)
	unique := storetest.Product(s.T(), s.db, 1, true)
	other := storetest.User(s.T(), s.db, model.RoleCustomer)
	foreign := storetest.Address(s.T(), s.db, other.ID, "Other", true)

	cases := map[string]PlaceOrderInput{
		"no items":       s.input(),
		"zero quantity":  s.input(LineItem{ProductID: p.ID, Quantity: 0}),
		"duplicate line": s.input(LineItem{ProductID: p.ID, Quantity: 1}, LineItem{ProductID: p.ID, Quantity: 2}),
		"unique qty":     s.input(LineItem{ProductID: unique.ID, Quantity: 2}),
	}
	foreignAddr := s.input(LineItem{ProductID: p.ID, Quantity: 1})
	foreignAddr.DeliveryAddressID = foreign.ID
	cases["foreign address"] = foreignAddr

	for name, in := range cases {
		_, err := s.lc.PlaceOrder(s.ctx, in)
		s.Require().True(apperr.IsValidation(err), "%s: %v", name, err)
	}
	s.Require().EqualValues(5, storetest.Stock(s.T(), s.db, p.ID))
	s.Require().EqualValues(1, storetest.Stock(s.T(), s.db, unique.ID))
	s.Require().Zero(s.count(&model.Order{}))
}

func (s *LifecycleTestSuite) TestPlaceOrderCheckoutMethods() {
	p := storetest.Product(s.T(), s.db, 5, false)

	in := s.input(LineItem{ProductID: p.ID, Quantity: 1})
	in.DeliveryMethodID = 4040
	_, err := s.lc.PlaceOrder(s.ctx, in)
	s.Require().ErrorIs(err, apperr.ErrNotFound)

	s.Require().NoError(s.db.Model(s.payment).Update("is_active", false).Error)
	_, err = s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().True(apperr.IsValidation(err))

	svc := storetest.Service(s.T(), s.db, 100)
	s.Require().NoError(s.db.Model(s.payment).Update("is_active", true).Error)
	s.Require().NoError(s.db.Model(svc).Update("is_active", false).Error)
	_, err = s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1, ServiceIDs: []uint{svc.ID}}))
	s.Require().True(apperr.IsValidation(err))
	s.Require().EqualValues(5, storetest.Stock(s.T(), s.db, p.ID))
}

// 历史条数 = 成功迁移次数 + 1
func (s *LifecycleTestSuite) TestHistoryCountsTransitions() {
	p := storetest.Product(s.T(), s.db, 5, false)
	o, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().NoError(err)

	_, err = s.lc.SetPaymentStatus(s.ctx, o.ID, model.PaymentPaid)
	s.Require().NoError(err)

	path := []model.OrderStatus{
		model.OrderConfirmed, model.OrderInProduction, model.OrderReady,
		model.OrderShipped, model.OrderDelivered,
	}
	for _, st := range path {
		got, err := s.lc.TransitionStatus(s.ctx, o.ID, st, "to "+string(st))
		s.Require().NoError(err)
		s.Require().Equal(st, got.Status)
	}

	// 被拒绝的迁移不写历史
	_, err = s.lc.TransitionStatus(s.ctx, o.ID, model.OrderCancelled, "")
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)

	hist, err := s.lc.History(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(hist, len(path)+1)
	s.Require().Equal(model.OrderDelivered, hist[0].Status)
	s.Require().Equal(model.OrderShipped, hist[0].PreviousStatus)
	s.Require().Equal("to delivered", hist[0].Comment)
	s.Require().Equal(model.OrderPending, hist[len(hist)-1].Status)
}

func (s *LifecycleTestSuite) TestTransitionRejections() {
	p := storetest.Product(s.T(), s.db, 5, false)
	o, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().NoError(err)

	_, err = s.lc.TransitionStatus(s.ctx, o.ID, model.OrderShipped, "")
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)
	_, err = s.lc.TransitionStatus(s.ctx, o.ID, model.OrderPending, "")
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)
	_, err = s.lc.TransitionStatus(s.ctx, o.ID, model.OrderStatus("lost"), "")
	s.Require().True(apperr.IsValidation(err))
	_, err = s.lc.TransitionStatus(s.ctx, 777, model.OrderConfirmed, "")
	s.Require().ErrorIs(err, apperr.ErrNotFound)

	// 未支付不能标记为已送达
	for _, st := range []model.OrderStatus{model.OrderConfirmed, model.OrderInProduction, model.OrderReady, model.OrderShipped} {
		_, err = s.lc.TransitionStatus(s.ctx, o.ID, st, "")
		s.Require().NoError(err)
	}
	_, err = s.lc.TransitionStatus(s.ctx, o.ID, model.OrderDelivered, "")
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)

	hist, err := s.lc.History(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(hist, 5)
}

func (s *LifecycleTestSuite) TestCancelRestocksAndCancelsPendingPayment() {
	a := storetest.Product(s.T(), s.db, 5, false)
	b := storetest.Product(s.T(), s.db, 1, true)
	o, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: a.ID, Quantity: 3}, LineItem{ProductID: b.ID, Quantity: 1}))
	s.Require().NoError(err)
	s.Require().EqualValues(2, storetest.Stock(s.T(), s.db, a.ID))
	s.Require().EqualValues(0, storetest.Stock(s.T(), s.db, b.ID))

	got, err := s.lc.TransitionStatus(s.ctx, o.ID, model.OrderCancelled, "customer request")
	s.Require().NoError(err)
	s.Require().Equal(model.OrderCancelled, got.Status)
	s.Require().Equal(model.PaymentCancelled, got.PaymentStatus)
	s.Require().EqualValues(5, storetest.Stock(s.T(), s.db, a.ID))
	s.Require().EqualValues(1, storetest.Stock(s.T(), s.db, b.ID))

	_, err = s.lc.SetPaymentStatus(s.ctx, o.ID, model.PaymentPaid)
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)
	_, err = s.lc.TransitionStatus(s.ctx, o.ID, model.OrderConfirmed, "")
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)
}

func (s *LifecycleTestSuite) TestRefundRequiresClosedOrder() {
	p := storetest.Product(s.T(), s.db, 5, false)
	o, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().NoError(err)

	_, err = s.lc.SetPaymentStatus(s.ctx, o.ID, model.PaymentPaid)
	s.Require().NoError(err)
	_, err = s.lc.SetPaymentStatus(s.ctx, o.ID, model.PaymentRefunded)
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)

	got, err := s.lc.TransitionStatus(s.ctx, o.ID, model.OrderCancelled, "")
	s.Require().NoError(err)
	s.Require().Equal(model.PaymentPaid, got.PaymentStatus)

	got, err = s.lc.SetPaymentStatus(s.ctx, o.ID, model.PaymentRefunded)
	s.Require().NoError(err)
	s.Require().Equal(model.PaymentRefunded, got.PaymentStatus)
}

func (s *LifecycleTestSuite) TestHistoryIsAppendOnly() {
	p := storetest.Product(s.T(), s.db, 5, false)
	o, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().NoError(err)

	hist, err := s.lc.History(s.ctx, o.ID)
	s.Require().NoError(err)
	h := hist[0]
	s.Require().ErrorIs(s.db.Model(&h).Update("comment", "rewritten").Error, model.ErrHistoryImmutable)
	s.Require().ErrorIs(s.db.Delete(&h).Error, model.ErrHistoryImmutable)

	_, err = s.lc.History(s.ctx, 31337)
	s.Require().ErrorIs(err, apperr.ErrNotFound)
}

func (s *LifecycleTestSuite) TestListByUser() {
	p := storetest.Product(s.T(), s.db, 5, false)
	first, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().NoError(err)
	second, err := s.lc.PlaceOrder(s.ctx, s.input(LineItem{ProductID: p.ID, Quantity: 1}))
	s.Require().NoError(err)

	list, err := s.lc.ListByUser(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Require().Equal(second.ID, list[0].ID)
	s.Require().Equal(first.ID, list[1].ID)

	_, err = s.lc.TransitionStatus(s.ctx, first.ID, model.OrderConfirmed, "")
	s.Require().NoError(err)
	confirmed, err := s.lc.ListAll(s.ctx, model.OrderConfirmed)
	s.Require().NoError(err)
	s.Require().Len(confirmed, 1)
	s.Require().Equal(first.ID, confirmed[0].ID)
}

func TestLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(LifecycleTestSuite))
}

// 同一唯一商品的两笔并发下单：恰好一笔成功
func TestPlaceOrderUniqueRace(t *testing.T) {
	assertOneOrderWins(t, storetest.NewDB(t))
}

func TestPlaceOrderUniqueRacePostgres(t *testing.T) {
	assertOneOrderWins(t, storetest.Postgres(t))
}

func assertOneOrderWins(t *testing.T, db *gorm.DB) {
	lc := NewLifecycle(db, inventory.NewLedger(db, 0, zerolog.Nop()), nil, 0, zerolog.Nop())
	dm, pm := storetest.CheckoutMethods(t, db)
	p := storetest.Product(t, db, 1, true)

	var g errgroup.Group
	errs := make([]error, 2)
	for i := range errs {
		u := storetest.User(t, db, model.RoleCustomer)
		addr := storetest.Address(t, db, u.ID, "Home", true)
		g.Go(func() error {
			_, errs[i] = lc.PlaceOrder(context.Background(), PlaceOrderInput{
				UserID:            u.ID,
				Items:             []LineItem{{ProductID: p.ID, Quantity: 1}},
				DeliveryMethodID:  dm.ID,
				DeliveryAddressID: addr.ID,
				PaymentMethodID:   pm.ID,
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, apperr.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)
	require.EqualValues(t, 0, storetest.Stock(t, db, p.ID))

	var n int64
	require.NoError(t, db.Model(&model.OrderItem{}).Where("product_id = ?", p.ID).Count(&n).Error)
	require.EqualValues(t, 1, n)
}
