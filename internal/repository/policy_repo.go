package repository

import (
	"context"
	"errors"
	"fmt"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PolicyRepository interface {
	FindByActionClass(ctx context.Context, actionClass string) (*model.ApprovalPolicy, error)
	List(ctx context.Context) ([]model.ApprovalPolicy, error)
	// Upsert inserts the policy or replaces the stored one, bumping its version.
	Upsert(ctx context.Context, policy *model.ApprovalPolicy) error
	Delete(ctx context.Context, actionClass string) error
}

type policyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) FindByActionClass(ctx context.Context, actionClass string) (*model.ApprovalPolicy, error) {
	var p model.ApprovalPolicy
	if err := GetDB(ctx, r.db).First(&p, "action_class = ?", actionClass).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", approval.ErrPolicyNotFound, actionClass)
		}
		return nil, err
	}
	return &p, nil
}

func (r *policyRepository) List(ctx context.Context) ([]model.ApprovalPolicy, error) {
	var policies []model.ApprovalPolicy
	if err := GetDB(ctx, r.db).Order("action_class ASC").Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

func (r *policyRepository) Upsert(ctx context.Context, policy *model.ApprovalPolicy) error {
	db := GetDB(ctx, r.db)
	var existing model.ApprovalPolicy
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, "action_class = ?", policy.ActionClass).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		policy.Version = 1
		return db.Create(policy).Error
	case err != nil:
		return err
	}
	policy.ID = existing.ID
	policy.CreatedAt = existing.CreatedAt
	policy.Version = existing.Version + 1
	return db.Save(policy).Error
}

func (r *policyRepository) Delete(ctx context.Context, actionClass string) error {
	res := GetDB(ctx, r.db).Where("action_class = ?", actionClass).Delete(&model.ApprovalPolicy{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", approval.ErrPolicyNotFound, actionClass)
	}
	return nil
}
