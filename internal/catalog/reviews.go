package catalog

import (
	"context"
	"errors"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	minRating = 1
	maxRating = 5
)

// RatingSummary 评分汇总，Distribution 的 key 为 1..5。
type RatingSummary struct {
	Average      decimal.Decimal `json:"average"`
	Count        int64           `json:"count"`
	Distribution map[int]int64   `json:"distribution"`
}

type Reviews struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewReviews(db *gorm.DB, log zerolog.Logger) *Reviews {
	return &Reviews{db: db, log: log.With().Str("component", "reviews").Logger()}
}

// Create 每个用户对同一商品只能评价一次，新评价默认未审核。
func (s *Reviews) Create(ctx context.Context, productID, userID uint, rating int, comment string) (*model.Review, error) {
	if rating < minRating || rating > maxRating {
		return nil, apperr.Validation("rating", "must be between 1 and 5")
	}

	r := &model.Review{
		ProductID: productID,
		UserID:    userID,
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Product
		if err := tx.Select("id").First(&p, productID).Error; err != nil {
			return err
		}
		var n int64
		err := tx.Model(&model.Review{}).Where("product_id = ? AND user_id = ?", productID, userID).Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return errDuplicateReview
		}
		return tx.Create(r).Error
	})
	if errors.Is(err, errDuplicateReview) || apperr.IsUniqueViolation(err) {
		return nil, errDuplicateReview
	}
	if err != nil {
		return nil, apperr.Classify(err)
	}
	s.log.Info().Uint("review_id", r.ID).Uint("product_id", productID).Int("rating", rating).Msg("review created")
	return r, nil
}

var errDuplicateReview = apperr.Validation("product_id", "you have already reviewed this product")

// Verify 审核通过。评价不存在返回 false。
func (s *Reviews) Verify(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Review{}).Where("id = ?", id).Update("is_verified", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ForProduct 新评价在前。
func (s *Reviews) ForProduct(ctx context.Context, productID uint, verifiedOnly bool) ([]model.Review, error) {
	q := s.db.WithContext(ctx).Where("product_id = ?", productID)
	if verifiedOnly {
		q = q.Where("is_verified = ?", true)
	}
	var list []model.Review
	err := q.Order("created_at DESC").Order("id DESC").Find(&list).Error
	return list, err
}

// RatingSummary 只统计已审核的评价。
func (s *Reviews) RatingSummary(ctx context.Context, productID uint) (RatingSummary, error) {
	var rows []struct {
		Rating int
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&model.Review{}).
		Select("rating, COUNT(*) AS n").
		Where("product_id = ? AND is_verified = ?", productID, true).
		Group("rating").
		Scan(&rows).Error
	if err != nil {
		return RatingSummary{}, err
	}

	sum := RatingSummary{Distribution: make(map[int]int64, maxRating)}
	for r := minRating; r <= maxRating; r++ {
		sum.Distribution[r] = 0
	}
	var total int64
	for _, row := range rows {
		sum.Distribution[row.Rating] = row.N
		sum.Count += row.N
		total += int64(row.Rating) * row.N
	}
	if sum.Count > 0 {
		sum.Average = decimal.NewFromInt(total).Div(decimal.NewFromInt(sum.Count)).Round(2)
	}
	return sum, nil
}
