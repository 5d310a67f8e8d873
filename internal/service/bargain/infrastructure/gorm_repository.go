package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"bargain/internal/featureflag"
	"bargain/internal/service/bargain/domain"
)

// GormMarkupRuleRepository 是 MarkupRuleRepository 的 GORM 实现
type GormMarkupRuleRepository struct {
	db *gorm.DB
}

func NewGormMarkupRuleRepository(db *gorm.DB) *GormMarkupRuleRepository {
	return &GormMarkupRuleRepository{db: db}
}

// FindActiveByCategory 有效期和维度匹配在解析器里做，这里只按类别和启用状态过滤
func (r *GormMarkupRuleRepository) FindActiveByCategory(ctx context.Context, category domain.Category) ([]domain.MarkupRule, error) {
	var models []MarkupRuleModel
	err := r.db.WithContext(ctx).
		Where("category = ? AND active = ?", string(category), true).
		Order("priority ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query markup rules for %s", category)
	}
	rules := make([]domain.MarkupRule, 0, len(models))
	for i := range models {
		rules = append(rules, ToDomainMarkupRule(&models[i]))
	}
	return rules, nil
}

// GormPromoCodeRepository 是 PromoCodeRepository 的 GORM 实现
type GormPromoCodeRepository struct {
	db *gorm.DB
}

func NewGormPromoCodeRepository(db *gorm.DB) *GormPromoCodeRepository {
	return &GormPromoCodeRepository{db: db}
}

func (r *GormPromoCodeRepository) FindByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	var model PromoCodeModel
	err := r.db.WithContext(ctx).Where("code = ?", domain.NormalizeCode(code)).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPromoNotFound
		}
		return nil, errors.Wrapf(err, "query promo code %s", code)
	}
	return ToDomainPromoCode(&model), nil
}

// GormFlagStore 实现 featureflag.Store
type GormFlagStore struct {
	db *gorm.DB
}

func NewGormFlagStore(db *gorm.DB) *GormFlagStore {
	return &GormFlagStore{db: db}
}

func (s *GormFlagStore) Load(ctx context.Context) (featureflag.State, error) {
	var model FeatureFlagModel
	err := s.db.WithContext(ctx).First(&model, featureFlagRowID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return featureflag.State{}, featureflag.ErrNoState
		}
		return featureflag.State{}, errors.Wrap(err, "load feature flags")
	}
	return ToDomainFlagState(&model), nil
}

// Save 按主键 upsert
func (s *GormFlagStore) Save(ctx context.Context, st featureflag.State) error {
	return errors.Wrap(s.db.WithContext(ctx).Save(FromDomainFlagState(st)).Error, "save feature flags")
}

// AutoMigrate 创建或更新表结构
func AutoMigrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&MarkupRuleModel{}, &PromoCodeModel{}, &FeatureFlagModel{}), "auto migrate")
}
