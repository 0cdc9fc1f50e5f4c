package router

import (
	"net/http"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/order"
	sfredis "storefront/pkg/redis"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey 客户端为每次下单生成的去重 key
const HeaderIdempotencyKey = "Idempotency-Key"

type lineRequest struct {
	ProductID           uint   `json:"product_id" binding:"required"`
	Quantity            int    `json:"quantity" binding:"required"`
	PersonalizationText string `json:"personalization_text"`
	ServiceIDs          []uint `json:"service_ids"`
}

type checkoutRequest struct {
	Items             []lineRequest `json:"items" binding:"required,dive"`
	DeliveryMethodID  uint          `json:"delivery_method_id" binding:"required"`
	DeliveryAddressID uint          `json:"delivery_address_id"`
	PaymentMethodID   uint          `json:"payment_method_id" binding:"required"`
	Notes             string        `json:"notes"`
}

// placeOrder 带 Idempotency-Key 时：
// 已成功的 key 直接重放订单；处理中的 key 返回 409；失败会清掉 key 允许重试。
// Acquire 在状态已存在时也会拒绝，所以同一个 key 最多落一笔订单。
func placeOrder(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		u := middleware.CurrentUser(c)

		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		useKey := key != "" && d.Idempotency != nil
		var token string
		if useKey {
			st, found, err := d.Idempotency.Lookup(ctx, u.ID, key)
			if err != nil {
				idempotencyUnavailable(c, d, err)
				return
			}
			if found {
				replayCheckout(c, d, st)
				return
			}
			var acquired bool
			token, acquired, err = d.Idempotency.Acquire(ctx, u.ID, key)
			if err != nil {
				idempotencyUnavailable(c, d, err)
				return
			}
			if !acquired {
				// 同 key 的请求可能在 Lookup 之后刚好完成，以最新状态为准
				st, _, err := d.Idempotency.Lookup(ctx, u.ID, key)
				if err != nil {
					idempotencyUnavailable(c, d, err)
					return
				}
				replayCheckout(c, d, st)
				return
			}
		}

		in := order.PlaceOrderInput{
			UserID:            u.ID,
			DeliveryMethodID:  req.DeliveryMethodID,
			DeliveryAddressID: req.DeliveryAddressID,
			PaymentMethodID:   req.PaymentMethodID,
			Notes:             req.Notes,
		}
		ids := make([]uint, 0, len(req.Items))
		for _, it := range req.Items {
			in.Items = append(in.Items, order.LineItem(it))
			ids = append(ids, it.ProductID)
		}

		o, err := func() (*model.Order, error) {
			if in.DeliveryAddressID == 0 {
				id, err := defaultAddressID(ctx, d, u)
				if err != nil {
					return nil, err
				}
				in.DeliveryAddressID = id
			}
			return d.Orders.PlaceOrder(ctx, in)
		}()
		if err != nil {
			if useKey {
				if aerr := d.Idempotency.Abort(ctx, u.ID, key, token); aerr != nil {
					d.Log.Warn().Err(aerr).Str("key", key).Msg("abort idempotency key")
				}
			}
			fail(c, d.Log, err)
			return
		}
		if useKey {
			if cerr := d.Idempotency.Complete(ctx, u.ID, key, token, o.ID); cerr != nil {
				d.Log.Warn().Err(cerr).Str("key", key).Uint("order_id", o.ID).Msg("complete idempotency key")
			}
		}

		refreshStock(ctx, d, ids...)
		ok(c, http.StatusCreated, o)
	}
}

func replayCheckout(c *gin.Context, d *Deps, st sfredis.CheckoutState) {
	if st.Status != sfredis.CheckoutSuccess {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "msg": "request is being processed"})
		return
	}
	o, err := d.Orders.Get(c.Request.Context(), st.OrderID)
	if err != nil {
		fail(c, d.Log, err)
		return
	}
	c.Header("Idempotent-Replayed", "true")
	ok(c, http.StatusOK, o)
}

func idempotencyUnavailable(c *gin.Context, d *Deps, err error) {
	d.Log.Error().Err(err).Str("request_id", middleware.RequestID(c)).Msg("idempotency store")
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "msg": "service busy, retry later"})
}

func listMyOrders(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Orders.ListByUser(c.Request.Context(), middleware.CurrentUser(c).ID)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

// visibleOrder 订单只对下单人和管理员可见。
func visibleOrder(c *gin.Context, d *Deps) (*model.Order, bool) {
	id, valid := paramID(c, "id")
	if !valid {
		return nil, false
	}
	o, err := d.Orders.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, d.Log, err)
		return nil, false
	}
	if !auth.OwnerOrAdmin(middleware.CurrentUser(c), o.UserID) {
		fail(c, d.Log, apperr.ErrForbidden)
		return nil, false
	}
	return o, true
}

func getOrder(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, valid := visibleOrder(c, d)
		if !valid {
			return
		}
		ok(c, http.StatusOK, o)
	}
}

func orderHistory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, valid := visibleOrder(c, d)
		if !valid {
			return
		}
		rows, err := d.Orders.History(c.Request.Context(), o.ID)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, rows)
	}
}

// transitionOrder 管理员可做任意合法迁移；下单人只能取消待处理订单。
func transitionOrder(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, valid := visibleOrder(c, d)
		if !valid {
			return
		}
		var req struct {
			Status  model.OrderStatus `json:"status" binding:"required"`
			Comment string            `json:"comment"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		u := middleware.CurrentUser(c)
		if !auth.IsAdmin(u) && (req.Status != model.OrderCancelled || o.Status != model.OrderPending) {
			fail(c, d.Log, apperr.ErrForbidden)
			return
		}

		updated, err := d.Orders.TransitionStatus(c.Request.Context(), o.ID, req.Status, req.Comment)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		if req.Status == model.OrderCancelled {
			ids := make([]uint, len(updated.Items))
			for i, it := range updated.Items {
				ids[i] = it.ProductID
			}
			refreshStock(c.Request.Context(), d, ids...)
		}
		ok(c, http.StatusOK, updated)
	}
}

func setPaymentStatus(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			PaymentStatus model.PaymentStatus `json:"payment_status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		o, err := d.Orders.SetPaymentStatus(c.Request.Context(), id, req.PaymentStatus)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, o)
	}
}

func listAllOrders(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := model.OrderStatus(c.Query("status"))
		if status != "" && !status.Valid() {
			fail(c, d.Log, apperr.Validation("status", "unknown order status"))
			return
		}
		list, err := d.Orders.ListAll(c.Request.Context(), status)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}
