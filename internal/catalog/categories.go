package catalog

import (
	"context"
	"regexp"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var errSlugTaken = apperr.Validation("slug", "a category with this slug already exists")

type CategoryInput struct {
	Name        string
	Description string
	Slug        string
}

// CategoryWithProducts 分类详情页：只带上架商品。
type CategoryWithProducts struct {
	model.Category
	Products []model.Product `json:"products"`
}

type Categories struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewCategories(db *gorm.DB, log zerolog.Logger) *Categories {
	return &Categories{db: db, log: log.With().Str("component", "categories").Logger()}
}

func (s *Categories) Create(ctx context.Context, in CategoryInput) (*model.Category, error) {
	c := &model.Category{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Slug:        strings.ToLower(strings.TrimSpace(in.Slug)),
	}
	switch {
	case c.Name == "":
		return nil, apperr.Validation("name", "must not be empty")
	case !slugPattern.MatchString(c.Slug):
		return nil, apperr.Validation("slug", "must be lowercase letters, digits and hyphens")
	}
	err := s.db.WithContext(ctx).Create(c).Error
	if apperr.IsUniqueViolation(err) {
		return nil, errSlugTaken
	}
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint("category_id", c.ID).Str("slug", c.Slug).Msg("category created")
	return c, nil
}

func (s *Categories) List(ctx context.Context) ([]model.Category, error) {
	var list []model.Category
	err := s.db.WithContext(ctx).Order("name ASC").Order("id ASC").Find(&list).Error
	return list, err
}

func (s *Categories) BySlug(ctx context.Context, slug string) (*CategoryWithProducts, error) {
	var out CategoryWithProducts
	db := s.db.WithContext(ctx)
	if err := db.Where("slug = ?", slug).First(&out.Category).Error; err != nil {
		return nil, apperr.Classify(err)
	}
	err := db.Where("category_id = ? AND is_active = ?", out.ID, true).
		Order("created_at DESC").Order("id DESC").
		Find(&out.Products).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// checkCategory 商品引用的分类必须存在，nil 表示未分类。
func checkCategory(tx *gorm.DB, id *uint) error {
	if id == nil {
		return nil
	}
	var n int64
	if err := tx.Model(&model.Category{}).Where("id = ?", *id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.Validation("category_id", "unknown category")
	}
	return nil
}
