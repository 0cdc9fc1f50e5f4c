// Package router 是 HTTP 边界：解析请求、判定权限、调用业务服务、映射错误。
package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"storefront/internal/account"
	"storefront/internal/address"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/catalog"
	"storefront/internal/inventory"
	"storefront/internal/middleware"
	"storefront/internal/order"
	sfredis "storefront/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Idempotency 下单去重存储，nil 表示不启用。
type Idempotency interface {
	Lookup(ctx context.Context, userID uint, key string) (sfredis.CheckoutState, bool, error)
	Acquire(ctx context.Context, userID uint, key string) (string, bool, error)
	Complete(ctx context.Context, userID uint, key, token string, orderID uint) error
	Abort(ctx context.Context, userID uint, key, token string) error
}

// StockCache 库存读缓存，nil 表示不启用。
type StockCache interface {
	Set(ctx context.Context, productID uint, stock, version int64) (bool, error)
	GetMany(ctx context.Context, productIDs []uint) (map[uint]int64, error)
}

// Deps 路由依赖的业务服务。
type Deps struct {
	Categories *catalog.Categories
	Products   *catalog.Products
	Services   *catalog.Services
	Reviews    *catalog.Reviews
	Ledger     *inventory.Ledger
	Addresses  *address.Book
	Orders     *order.Lifecycle
	Users      *account.Users

	Idempotency Idempotency
	StockCache  StockCache
	// CheckoutLimiter 下单限流中间件，nil 表示不限流
	CheckoutLimiter gin.HandlerFunc

	LowStockThreshold int64
	Log               zerolog.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d *Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api", middleware.Identity(d.Users, false))

	// 公开
	api.GET("/products", listProducts(d))
	api.GET("/products/:id", getProduct(d))
	api.GET("/products/:id/availability", productAvailability(d))
	api.GET("/products/:id/reviews", listReviews(d))
	api.GET("/services", listServices(d))
	api.GET("/categories", listCategories(d))
	api.GET("/categories/:slug", getCategory(d))
	api.POST("/users", registerUser(d))
	api.POST("/users/verify/:token", verifyEmail(d))
	api.POST("/users/password-reset", requestPasswordReset(d))
	api.POST("/users/password-reset/confirm", confirmPasswordReset(d))

	// 登录用户
	user := api.Group("", middleware.RequireUser())
	user.GET("/me", getMe(d))
	user.PATCH("/me", updateMe(d))
	user.POST("/products/:id/reviews", createReview(d))

	user.GET("/addresses", listAddresses(d))
	user.POST("/addresses", createAddress(d))
	user.PATCH("/addresses/:id", updateAddress(d))
	user.DELETE("/addresses/:id", deleteAddress(d))
	user.POST("/addresses/:id/default", setDefaultAddress(d))

	checkout := []gin.HandlerFunc{}
	if d.CheckoutLimiter != nil {
		checkout = append(checkout, d.CheckoutLimiter)
	}
	user.POST("/checkout", append(checkout, placeOrder(d))...)
	user.GET("/orders", listMyOrders(d))
	user.GET("/orders/:id", getOrder(d))
	user.GET("/orders/:id/history", orderHistory(d))
	user.POST("/orders/:id/status", transitionOrder(d))

	// 卖家
	seller := api.Group("/seller", middleware.RequireUser(), middleware.RequireCapability(auth.CapManageProducts))
	seller.GET("/products", sellerListProducts(d))
	seller.POST("/products", createProduct(d))
	seller.GET("/products/low-stock", lowStock(d))
	seller.GET("/products/:id", sellerGetProduct(d))
	seller.PATCH("/products/:id", updateProduct(d))
	seller.POST("/products/:id/stock", updateStock(d))
	seller.POST("/products/:id/toggle", toggleProduct(d))
	seller.POST("/categories", createCategory(d))
	seller.POST("/services", createService(d))
	seller.PATCH("/services/:id", updateService(d))
	seller.POST("/services/:id/toggle", toggleService(d))

	// 管理员
	admin := api.Group("/admin", middleware.RequireAdmin())
	admin.GET("/orders", middleware.RequireCapability(auth.CapViewAllOrders), listAllOrders(d))
	admin.POST("/orders/:id/payment", setPaymentStatus(d))
	admin.POST("/reviews/:id/verify", verifyReview(d))
	admin.POST("/users/:id/verify", middleware.RequireCapability(auth.CapVerifyUsers), adminVerifyUser(d))
	admin.POST("/users/:id/activate", middleware.RequireCapability(auth.CapVerifyUsers), adminSetActive(d, true))
	admin.POST("/users/:id/deactivate", middleware.RequireCapability(auth.CapVerifyUsers), adminSetActive(d, false))
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"code": 0, "data": data})
}

// fail 按错误分类映射 HTTP 状态码；未分类错误只记日志，不回显细节。
func fail(c *gin.Context, log zerolog.Logger, err error) {
	status := statusOf(err)
	body := gin.H{"code": status, "msg": err.Error()}

	var rejected *order.RejectedError
	if errors.As(err, &rejected) {
		body["data"] = gin.H{"product_id": rejected.ProductID}
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		body["data"] = gin.H{"field": ve.Field}
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", middleware.RequestID(c)).Str("path", c.FullPath()).Msg("request failed")
		body["msg"] = "internal server error"
	}
	c.AbortWithStatusJSON(status, body)
}

func statusOf(err error) int {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInsufficientStock), errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrLockTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// badRequest 请求体绑定失败
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": err.Error()})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// refreshStock 数据库写入后刷新库存缓存，失败只记日志。
func refreshStock(ctx context.Context, d *Deps, productIDs ...uint) {
	if d.StockCache == nil {
		return
	}
	for _, id := range productIDs {
		p, err := d.Products.GetForSeller(ctx, id)
		if err != nil {
			d.Log.Warn().Err(err).Uint("product_id", id).Msg("reload product for stock cache")
			continue
		}
		if _, err := d.StockCache.Set(ctx, id, p.StockQuantity, p.UpdatedAt.UnixMicro()); err != nil {
			d.Log.Warn().Err(err).Uint("product_id", id).Msg("refresh stock cache")
		}
	}
}
