package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/featureflag/domain"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	"github.com/smallbiznis/greenpm/pkg/db/option"
	"github.com/smallbiznis/greenpm/pkg/repository"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) store(db *gorm.DB) *repository.Store[domain.FeatureFlag] {
	return repository.NewStore[domain.FeatureFlag](db)
}

func (r *repo) FindFlag(ctx context.Context, db *gorm.DB, companyID snowflake.ID, moduleKey string, lock bool) (*domain.FeatureFlag, error) {
	opts := []option.QueryOption{
		option.Equal(tenantctx.CompanyColumn, companyID),
		option.Equal("module_key", moduleKey),
	}
	if lock {
		opts = append(opts, option.ForUpdate())
	}
	return r.store(db).FindOne(ctx, opts...)
}

func (r *repo) ListFlags(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]*domain.FeatureFlag, error) {
	return r.store(db).Find(ctx,
		option.Equal(tenantctx.CompanyColumn, companyID),
		option.OrderBy("module_key", false),
	)
}

func (r *repo) CreateFlag(ctx context.Context, db *gorm.DB, flag *domain.FeatureFlag) error {
	return r.store(db).Create(ctx, flag)
}

func (r *repo) UpdateFlag(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error {
	_, err := r.store(db).Update(ctx, id, values)
	return err
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, companyID snowflake.ID, moduleKey string, delta int64) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.FeatureFlag{}).
		Scopes(tenantctx.Scope(ctx)).
		Where("company_id = ? AND module_key = ?", companyID, moduleKey).
		UpdateColumn("current_usage", gorm.Expr("current_usage + ?", delta))
	return res.RowsAffected, res.Error
}

func (r *repo) ActivePlan(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).
		Model(&plandomain.Plan{}).
		Joins("JOIN plan_assignments pa ON pa.plan_id = plans.id").
		Where("pa.company_id = ? AND pa.active = ?", companyID, true).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) PlanFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]plandomain.PlanFeature, error) {
	var features []plandomain.PlanFeature
	if err := db.WithContext(ctx).Where("plan_id = ?", planID).Order("module_key asc").Find(&features).Error; err != nil {
		return nil, err
	}
	return features, nil
}
