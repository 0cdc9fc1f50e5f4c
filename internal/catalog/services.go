package catalog

import (
	"context"
	"slices"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type ServiceInput struct {
	Name        string
	Description string
	Price       int64
	IsActive    bool
}

type ServiceUpdate struct {
	Name        *string
	Description *string
	Price       *int64
}

// Services 订单行可附加的增值服务
type Services struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewServices(db *gorm.DB, log zerolog.Logger) *Services {
	return &Services{db: db, log: log.With().Str("component", "services").Logger()}
}

func (s *Services) Create(ctx context.Context, in ServiceInput) (*model.Service, error) {
	svc := &model.Service{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		IsActive:    in.IsActive,
	}
	if err := validateService(svc); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(svc).Error; err != nil {
		return nil, err
	}
	s.log.Info().Uint("service_id", svc.ID).Str("name", svc.Name).Msg("service created")
	return svc, nil
}

func (s *Services) Update(ctx context.Context, id uint, upd ServiceUpdate) (*model.Service, error) {
	var svc model.Service
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&svc, id).Error; err != nil {
			return err
		}
		if upd.Name != nil {
			svc.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Description != nil {
			svc.Description = strings.TrimSpace(*upd.Description)
		}
		if upd.Price != nil {
			svc.Price = *upd.Price
		}
		if err := validateService(&svc); err != nil {
			return err
		}
		return tx.Model(&model.Service{}).Where("id = ?", id).Updates(map[string]interface{}{
			"name":        svc.Name,
			"description": svc.Description,
			"price":       svc.Price,
		}).Error
	})
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return &svc, nil
}

func (s *Services) ToggleActive(ctx context.Context, id uint) (*model.Service, error) {
	var svc model.Service
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&svc, id).Error; err != nil {
			return err
		}
		svc.IsActive = !svc.IsActive
		return tx.Model(&svc).Update("is_active", svc.IsActive).Error
	})
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return &svc, nil
}

func (s *Services) ListActive(ctx context.Context) ([]model.Service, error) {
	var list []model.Service
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("name").Find(&list).Error
	return list, err
}

// ActiveByIDs 按 id 升序返回；任一 id 不存在或已停用即校验失败。
func (s *Services) ActiveByIDs(ctx context.Context, ids []uint) ([]model.Service, error) {
	return LoadActiveServices(s.db.WithContext(ctx), ids)
}

// LoadActiveServices 供需要在外层事务内读取服务的调用方使用。
func LoadActiveServices(db *gorm.DB, ids []uint) ([]model.Service, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	uniq := slices.Clone(ids)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)

	var list []model.Service
	err := db.Where("id IN ? AND is_active = ?", uniq, true).Order("id").Find(&list).Error
	if err != nil {
		return nil, err
	}
	if len(list) != len(uniq) {
		return nil, apperr.Validation("service_ids", "unknown or inactive service")
	}
	return list, nil
}

func validateService(s *model.Service) error {
	if s.Name == "" {
		return apperr.Validation("name", "must not be empty")
	}
	if s.Price < 0 {
		return apperr.Validation("price", "must not be negative")
	}
	return nil
}
