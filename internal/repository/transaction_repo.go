package repository

import (
	"context"
	"time"

	"rwaadmin/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	Status    string
	Type      string
	ProjectID *uuid.UUID
	Page      int
	Limit     int
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *model.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	List(ctx context.Context, filter TransactionFilter) ([]model.Transaction, int64, error)
	LinkApproval(ctx context.Context, id, requestID uuid.UUID) error
	// TransitionStatus moves the transaction to status to only if its current
	// status is one of from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string, executedAt *time.Time) error
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	return GetDB(ctx, r.db).Create(tx).Error
}

func (r *transactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	var tx model.Transaction
	if err := GetDB(ctx, r.db).Preload("Project").First(&tx, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) List(ctx context.Context, f TransactionFilter) ([]model.Transaction, int64, error) {
	var txs []model.Transaction
	var total int64

	filtered := func(db *gorm.DB) *gorm.DB {
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		if f.Type != "" {
			db = db.Where("type = ?", f.Type)
		}
		if f.ProjectID != nil {
			db = db.Where("project_id = ?", *f.ProjectID)
		}
		return db
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Transaction{}).Scopes(filtered).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (f.Page - 1) * f.Limit
	if err := db.Scopes(filtered).Order("created_at DESC").Offset(offset).Limit(f.Limit).Find(&txs).Error; err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (r *transactionRepository) LinkApproval(ctx context.Context, id, requestID uuid.UUID) error {
	return GetDB(ctx, r.db).Model(&model.Transaction{}).
		Where("id = ?", id).
		Update("approval_request_id", requestID).Error
}

func (r *transactionRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []string, to string, executedAt *time.Time) error {
	updates := map[string]any{"status": to}
	if executedAt != nil {
		updates["executed_at"] = *executedAt
	}
	res := GetDB(ctx, r.db).Model(&model.Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
