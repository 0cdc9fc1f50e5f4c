package router

import (
	"net/http"
	"strconv"

	"storefront/internal/catalog"
	"storefront/internal/inventory"
	"storefront/internal/middleware"
	"storefront/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// productView 列表项，InStock 优先取库存缓存。
type productView struct {
	model.Product
	EffectivePrice int64 `json:"effective_price"`
	InStock        bool  `json:"in_stock"`
}

func listProducts(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Products.ListActive(c.Request.Context(), c.Query("search"), c.Query("sort"))
		if err != nil {
			fail(c, d.Log, err)
			return
		}

		var cached map[uint]int64
		if d.StockCache != nil && len(list) > 0 {
			ids := make([]uint, len(list))
			for i, p := range list {
				ids[i] = p.ID
			}
			if cached, err = d.StockCache.GetMany(c.Request.Context(), ids); err != nil {
				d.Log.Warn().Err(err).Msg("read stock cache")
			}
		}

		out := make([]productView, len(list))
		for i, p := range list {
			if n, hit := cached[p.ID]; hit {
				p.StockQuantity = n
			}
			out[i] = productView{Product: p, EffectivePrice: p.EffectivePrice(), InStock: p.Available(1)}
		}
		ok(c, http.StatusOK, out)
	}
}

func getProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		p, err := d.Products.Get(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		summary, err := d.Reviews.RatingSummary(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, gin.H{
			"product": productView{Product: *p, EffectivePrice: p.EffectivePrice(), InStock: p.Available(1)},
			"rating":  summary,
		})
	}
}

// productAvailability 始终以数据库为准。
func productAvailability(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		qty := int64(1)
		if raw := c.Query("quantity"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": "invalid quantity"})
				return
			}
			qty = n
		}
		available, err := d.Ledger.CheckAvailability(c.Request.Context(), id, qty)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"product_id": id, "quantity": qty, "available": available})
	}
}

type productRequest struct {
	Name                  string           `json:"name" binding:"required"`
	Description           string           `json:"description"`
	BasePrice             int64            `json:"base_price" binding:"required"`
	DiscountPrice         int64            `json:"discount_price"`
	IsUnique              bool             `json:"is_unique"`
	StockQuantity         int64            `json:"stock_quantity"`
	IsActive              *bool            `json:"is_active"`
	CategoryID            *uint            `json:"category_id"`
	ManufacturingTimeDays int              `json:"manufacturing_time_days"`
	Materials             string           `json:"materials"`
	Weight                *decimal.Decimal `json:"weight"`
	Size                  *decimal.Decimal `json:"size"`
}

func createProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req productRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		in := catalog.ProductInput{
			Name:                  req.Name,
			Description:           req.Description,
			BasePrice:             req.BasePrice,
			DiscountPrice:         req.DiscountPrice,
			IsUnique:              req.IsUnique,
			StockQuantity:         req.StockQuantity,
			IsActive:              req.IsActive == nil || *req.IsActive,
			CategoryID:            req.CategoryID,
			ManufacturingTimeDays: req.ManufacturingTimeDays,
			Materials:             req.Materials,
		}
		if req.Weight != nil {
			in.Weight = *req.Weight
		}
		if req.Size != nil {
			in.Size = *req.Size
		}
		p, err := d.Products.Create(c.Request.Context(), in)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		refreshStock(c.Request.Context(), d, p.ID)
		ok(c, http.StatusCreated, p)
	}
}

type productPatch struct {
	Name                  *string          `json:"name"`
	Description           *string          `json:"description"`
	BasePrice             *int64           `json:"base_price"`
	DiscountPrice         *int64           `json:"discount_price"`
	IsUnique              *bool            `json:"is_unique"`
	CategoryID            *uint            `json:"category_id"`
	ManufacturingTimeDays *int             `json:"manufacturing_time_days"`
	Materials             *string          `json:"materials"`
	Weight                *decimal.Decimal `json:"weight"`
	Size                  *decimal.Decimal `json:"size"`
}

// updateProduct 请求体里的 stock_quantity 不在 productPatch 中，会被忽略。
func updateProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req productPatch
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := d.Products.Update(c.Request.Context(), id, catalog.ProductUpdate(req))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, p)
	}
}

func updateStock(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			Action   string `json:"action" binding:"required"`
			Quantity int64  `json:"quantity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		action, err := inventory.ParseStockAction(req.Action)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		stock, err := d.Ledger.UpdateStock(c.Request.Context(), id, action, req.Quantity)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		d.Log.Info().
			Uint("product_id", id).
			Uint("by_user", middleware.CurrentUser(c).ID).
			Str("action", string(action)).
			Int64("quantity", req.Quantity).
			Msg("stock adjusted")
		refreshStock(c.Request.Context(), d, id)
		ok(c, http.StatusOK, gin.H{"product_id": id, "stock_quantity": stock})
	}
}

func toggleProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		p, err := d.Products.ToggleActive(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, p)
	}
}

func sellerGetProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		p, err := d.Products.GetForSeller(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, p)
	}
}

func sellerListProducts(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Products.ListForSeller(c.Request.Context(), catalog.ListFilter{
			Status: c.Query("status"),
			Search: c.Query("search"),
			Sort:   c.Query("sort"),
		})
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

func lowStock(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		threshold := d.LowStockThreshold
		if raw := c.Query("threshold"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": "invalid threshold"})
				return
			}
			threshold = n
		}
		list, err := d.Products.LowStock(c.Request.Context(), threshold)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		out, err := d.Products.OutOfStockCount(c.Request.Context())
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"threshold": threshold, "products": list, "out_of_stock_count": out})
	}
}

func listServices(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Services.ListActive(c.Request.Context())
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

func createService(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name        string `json:"name" binding:"required"`
			Description string `json:"description"`
			Price       int64  `json:"price"`
			IsActive    *bool  `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		svc, err := d.Services.Create(c.Request.Context(), catalog.ServiceInput{
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			IsActive:    req.IsActive == nil || *req.IsActive,
		})
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusCreated, svc)
	}
}

func updateService(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			Name        *string `json:"name"`
			Description *string `json:"description"`
			Price       *int64  `json:"price"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		svc, err := d.Services.Update(c.Request.Context(), id, catalog.ServiceUpdate(req))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, svc)
	}
}

func toggleService(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		svc, err := d.Services.ToggleActive(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, svc)
	}
}

func listReviews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		list, err := d.Reviews.ForProduct(c.Request.Context(), id, true)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

func createReview(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			Rating  int    `json:"rating" binding:"required"`
			Comment string `json:"comment"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		r, err := d.Reviews.Create(c.Request.Context(), id, middleware.CurrentUser(c).ID, req.Rating, req.Comment)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusCreated, r)
	}
}

func verifyReview(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		found, err := d.Reviews.Verify(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		if !found {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "msg": "review not found"})
			return
		}
		ok(c, http.StatusOK, gin.H{"id": id, "is_verified": true})
	}
}

func listCategories(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Categories.List(c.Request.Context())
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

// getCategory 按 slug 返回分类及其上架商品。
func getCategory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat, err := d.Categories.BySlug(c.Request.Context(), c.Param("slug"))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, cat)
	}
}

func createCategory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name        string `json:"name" binding:"required"`
			Description string `json:"description"`
			Slug        string `json:"slug" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		cat, err := d.Categories.Create(c.Request.Context(), catalog.CategoryInput(req))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusCreated, cat)
	}
}
