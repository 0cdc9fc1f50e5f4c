// Package catalog 管理分类、商品、增值服务与评价。库存数量不在这里写，见 inventory。
package catalog

import (
	"context"
	"strings"
	"unicode/utf8"

	"storefront/internal/apperr"
	"storefront/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxNameLen = 127

// ProductInput 上架参数
type ProductInput struct {
	Name                  string
	Description           string
	BasePrice             int64
	DiscountPrice         int64
	IsUnique              bool
	StockQuantity         int64
	IsActive              bool
	CategoryID            *uint
	ManufacturingTimeDays int
	Materials             string
	Weight                decimal.Decimal
	Size                  decimal.Decimal
}

// ProductUpdate 只列出可编辑字段；库存走 inventory.Ledger。
type ProductUpdate struct {
	Name                  *string
	Description           *string
	BasePrice             *int64
	DiscountPrice         *int64
	IsUnique              *bool
	CategoryID            *uint
	ManufacturingTimeDays *int
	Materials             *string
	Weight                *decimal.Decimal
	Size                  *decimal.Decimal
}

// 卖家列表筛选
const (
	FilterActive     = "active"
	FilterInactive   = "inactive"
	FilterOutOfStock = "out_of_stock"
)

type ListFilter struct {
	Status string
	Search string
	Sort   string
}

// sortColumns 排序白名单，"-" 前缀表示倒序。
var sortColumns = map[string]string{
	"name":     "name ASC",
	"-name":    "name DESC",
	"price":    "base_price ASC",
	"-price":   "base_price DESC",
	"stock":    "stock_quantity ASC",
	"-stock":   "stock_quantity DESC",
	"created":  "created_at ASC",
	"-created": "created_at DESC",
}

type Products struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewProducts(db *gorm.DB, log zerolog.Logger) *Products {
	return &Products{db: db, log: log.With().Str("component", "products").Logger()}
}

func (s *Products) Create(ctx context.Context, in ProductInput) (*model.Product, error) {
	p := &model.Product{
		Name:                  strings.TrimSpace(in.Name),
		Description:           strings.TrimSpace(in.Description),
		BasePrice:             in.BasePrice,
		DiscountPrice:         in.DiscountPrice,
		IsUnique:              in.IsUnique,
		StockQuantity:         in.StockQuantity,
		IsActive:              in.IsActive,
		CategoryID:            in.CategoryID,
		ManufacturingTimeDays: in.ManufacturingTimeDays,
		Materials:             in.Materials,
		Weight:                in.Weight,
		Size:                  in.Size,
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	if err := checkCategory(s.db.WithContext(ctx), p.CategoryID); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	s.log.Info().Uint("product_id", p.ID).Str("name", p.Name).Int64("stock", p.StockQuantity).Msg("product created")
	return p, nil
}

// Update 合并后整体校验，只写入调用方给出的列。
func (s *Products) Update(ctx context.Context, id uint, upd ProductUpdate) (*model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&p, id).Error; err != nil {
			return err
		}
		cols := map[string]interface{}{}
		if upd.Name != nil {
			p.Name = strings.TrimSpace(*upd.Name)
			cols["name"] = p.Name
		}
		if upd.Description != nil {
			p.Description = strings.TrimSpace(*upd.Description)
			cols["description"] = p.Description
		}
		if upd.BasePrice != nil {
			p.BasePrice = *upd.BasePrice
			cols["base_price"] = p.BasePrice
		}
		if upd.DiscountPrice != nil {
			p.DiscountPrice = *upd.DiscountPrice
			cols["discount_price"] = p.DiscountPrice
		}
		if upd.IsUnique != nil {
			p.IsUnique = *upd.IsUnique
			cols["is_unique"] = p.IsUnique
		}
		if upd.CategoryID != nil {
			p.CategoryID = upd.CategoryID
			cols["category_id"] = *upd.CategoryID
		}
		if upd.ManufacturingTimeDays != nil {
			p.ManufacturingTimeDays = *upd.ManufacturingTimeDays
			cols["manufacturing_time_days"] = p.ManufacturingTimeDays
		}
		if upd.Materials != nil {
			p.Materials = *upd.Materials
			cols["materials"] = p.Materials
		}
		if upd.Weight != nil {
			p.Weight = *upd.Weight
			cols["weight"] = p.Weight
		}
		if upd.Size != nil {
			p.Size = *upd.Size
			cols["size"] = p.Size
		}
		if err := validateProduct(&p); err != nil {
			return err
		}
		if err := checkCategory(tx, upd.CategoryID); err != nil {
			return err
		}
		if len(cols) == 0 {
			return nil
		}
		return tx.Model(&model.Product{}).Where("id = ?", id).Updates(cols).Error
	})
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return s.GetForSeller(ctx, id)
}

// ToggleActive 上下架切换，返回切换后的商品。
func (s *Products) ToggleActive(ctx context.Context, id uint) (*model.Product, error) {
	res := s.db.WithContext(ctx).Model(&model.Product{}).
		Where("id = ?", id).
		Update("is_active", gorm.Expr("NOT is_active"))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.ErrNotFound
	}
	p, err := s.GetForSeller(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint("product_id", id).Bool("active", p.IsActive).Msg("product toggled")
	return p, nil
}

// Get 顾客视角，下架商品视为不存在。
func (s *Products) Get(ctx context.Context, id uint) (*model.Product, error) {
	var p model.Product
	err := s.db.WithContext(ctx).Where("is_active = ?", true).First(&p, id).Error
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return &p, nil
}

func (s *Products) GetForSeller(ctx context.Context, id uint) (*model.Product, error) {
	var p model.Product
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, apperr.Classify(err)
	}
	return &p, nil
}

// ListActive 店铺首页：只列上架商品。
func (s *Products) ListActive(ctx context.Context, search, sort string) ([]model.Product, error) {
	return s.list(ctx, ListFilter{Status: FilterActive, Search: search, Sort: sort})
}

func (s *Products) ListForSeller(ctx context.Context, f ListFilter) ([]model.Product, error) {
	return s.list(ctx, f)
}

func (s *Products) list(ctx context.Context, f ListFilter) ([]model.Product, error) {
	order, ok := sortColumns[f.Sort]
	if f.Sort == "" {
		order, ok = sortColumns["-created"], true
	}
	if !ok {
		return nil, apperr.Validation("sort", "unsupported sort "+f.Sort)
	}

	q := s.db.WithContext(ctx).Model(&model.Product{})
	switch f.Status {
	case "":
	case FilterActive:
		q = q.Where("is_active = ?", true)
	case FilterInactive:
		q = q.Where("is_active = ?", false)
	case FilterOutOfStock:
		q = q.Where("stock_quantity = ?", 0)
	default:
		return nil, apperr.Validation("status", "unsupported filter "+f.Status)
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		like := "%" + term + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var list []model.Product
	err := q.Order(order).Order("id DESC").Find(&list).Error
	return list, err
}

// LowStock 有库存但不超过阈值的商品，库存少的在前。
func (s *Products) LowStock(ctx context.Context, threshold int64) ([]model.Product, error) {
	var list []model.Product
	err := s.db.WithContext(ctx).
		Where("stock_quantity > ? AND stock_quantity <= ?", 0, threshold).
		Order("stock_quantity ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}

func (s *Products) OutOfStockCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Product{}).Where("stock_quantity = ?", 0).Count(&n).Error
	return n, err
}

func validateProduct(p *model.Product) error {
	switch {
	case p.Name == "":
		return apperr.Validation("name", "must not be empty")
	case utf8.RuneCountInString(p.Name) > maxNameLen:
		return apperr.Validation("name", "must be at most 127 characters")
	case p.BasePrice <= 0:
		return apperr.Validation("base_price", "must be positive")
	case p.DiscountPrice < 0:
		return apperr.Validation("discount_price", "must not be negative")
	case p.DiscountPrice > p.BasePrice:
		return apperr.Validation("discount_price", "must not exceed base price")
	case p.StockQuantity < 0:
		return apperr.Validation("stock_quantity", "must not be negative")
	case p.IsUnique && p.StockQuantity > 1:
		return apperr.Validation("stock_quantity", "unique product stock must be 0 or 1")
	case p.ManufacturingTimeDays < 0:
		return apperr.Validation("manufacturing_time_days", "must not be negative")
	case p.Weight.IsNegative():
		return apperr.Validation("weight", "must not be negative")
	case p.Size.IsNegative():
		return apperr.Validation("size", "must not be negative")
	}
	return nil
}
