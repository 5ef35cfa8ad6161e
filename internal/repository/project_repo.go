package repository

import (
	"context"
	"errors"

	"rwaadmin/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleState means a guarded status update found the row in a different state.
var ErrStaleState = errors.New("entity is no longer in the expected state")

type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Project, error)
	// FindByIDForUpdate loads the project holding its row lock until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Project, error)
	List(ctx context.Context, phase string, page, limit int) ([]model.Project, int64, error)
	// UpdatePhase moves the project only if it is still in phase from.
	UpdatePhase(ctx context.Context, id uuid.UUID, from, to string) error
}

type projectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, project *model.Project) error {
	return GetDB(ctx, r.db).Create(project).Error
}

func (r *projectRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var p model.Project
	if err := GetDB(ctx, r.db).Preload("Creator").First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var p model.Project
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepository) List(ctx context.Context, phase string, page, limit int) ([]model.Project, int64, error) {
	var projects []model.Project
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.Project{})
	if phase != "" {
		query = query.Where("phase = ?", phase)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := db.Order("created_at DESC")
	if phase != "" {
		fetch = fetch.Where("phase = ?", phase)
	}
	if err := fetch.Offset(offset).Limit(limit).Find(&projects).Error; err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

func (r *projectRepository) UpdatePhase(ctx context.Context, id uuid.UUID, from, to string) error {
	res := GetDB(ctx, r.db).Model(&model.Project{}).
		Where("id = ? AND phase = ?", id, from).
		Update("phase", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
