package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreatePlan(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Omit("Features").Create(plan).Error
}

func (r *repo) ListPlans(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Plan, error) {
	var plans []domain.Plan
	stmt := db.WithContext(ctx).Model(&domain.Plan{}).Preload("Features", func(db *gorm.DB) *gorm.DB {
		return db.Order("module_key asc")
	})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("code asc").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Preload("Features").Where("id = ?", id).First(&plan).Error
	return found(&plan, err)
}

func (r *repo) FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Preload("Features").Where("code = ?", code).First(&plan).Error
	return found(&plan, err)
}

func (r *repo) ListFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]domain.PlanFeature, error) {
	var features []domain.PlanFeature
	if err := db.WithContext(ctx).Where("plan_id = ?", planID).Order("module_key asc").Find(&features).Error; err != nil {
		return nil, err
	}
	return features, nil
}

func (r *repo) FindFeature(ctx context.Context, db *gorm.DB, planID snowflake.ID, moduleKey string) (*domain.PlanFeature, error) {
	var feature domain.PlanFeature
	err := db.WithContext(ctx).Where("plan_id = ? AND module_key = ?", planID, moduleKey).First(&feature).Error
	return found(&feature, err)
}

func (r *repo) SaveFeature(ctx context.Context, db *gorm.DB, feature *domain.PlanFeature) error {
	return db.WithContext(ctx).Save(feature).Error
}

func (r *repo) FindActiveAssignment(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*domain.Assignment, error) {
	var assignment domain.Assignment
	err := db.WithContext(ctx).
		Where("company_id = ? AND active = ?", companyID, true).
		First(&assignment).Error
	return found(&assignment, err)
}

func (r *repo) EndActiveAssignments(ctx context.Context, db *gorm.DB, companyID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.Assignment{}).
		Where("company_id = ? AND active = ?", companyID, true).
		Updates(map[string]any{
			"active":     false,
			"end_at":     at,
			"updated_at": at,
		}).Error
}

func (r *repo) CreateAssignment(ctx context.Context, db *gorm.DB, assignment *domain.Assignment) error {
	return db.WithContext(ctx).Create(assignment).Error
}

func (r *repo) CreateContract(ctx context.Context, db *gorm.DB, contract *domain.Contract) error {
	return db.WithContext(ctx).Create(contract).Error
}

func (r *repo) FindContractInEffect(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID, at time.Time) (*domain.Contract, error) {
	var contract domain.Contract
	err := db.WithContext(ctx).
		Where("assignment_id = ? AND status = ? AND start_at <= ?", assignmentID, domain.ContractActive, at).
		Where("(end_at IS NULL OR end_at > ?)", at).
		Order("start_at desc, id desc").
		First(&contract).Error
	return found(&contract, err)
}

func found[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}
