package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Action     string
	Page       int
	Limit      int
}

// AuditRepository stores audit entries. It doubles as the approval engine's audit sink.
type AuditRepository interface {
	approval.AuditSink
	Log(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, filter AuditFilter) ([]model.AuditLog, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Log(ctx context.Context, entry *model.AuditLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

// Record implements approval.AuditSink.
func (r *auditRepository) Record(ctx context.Context, e approval.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	entry := &model.AuditLog{
		UserID:     parseActor(e.ActorID),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     e.Before,
		After:      e.After,
		Details:    string(details),
		CreatedAt:  e.At,
	}
	return r.Log(ctx, entry)
}

func (r *auditRepository) List(ctx context.Context, f AuditFilter) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	filtered := func(db *gorm.DB) *gorm.DB {
		if f.EntityType != "" {
			db = db.Where("entity_type = ?", f.EntityType)
		}
		if f.EntityID != "" {
			db = db.Where("entity_id = ?", f.EntityID)
		}
		if f.Action != "" {
			db = db.Where("action = ?", f.Action)
		}
		return db
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.AuditLog{}).Scopes(filtered).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (f.Page - 1) * f.Limit
	if err := db.Scopes(filtered).Preload("User").Order("created_at desc").Offset(offset).Limit(f.Limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

func parseActor(id string) *uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &parsed
}
