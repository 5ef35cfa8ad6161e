package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/model"
	"rwaadmin/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TargetKindProject marks approval targets that are projects.
const TargetKindProject = "project"

// --- DTOs ---

type CreateProjectRequest struct {
	Code         string          `json:"code" binding:"required"`
	Name         string          `json:"name" binding:"required"`
	AssetClass   string          `json:"asset_class" binding:"required"`
	Jurisdiction string          `json:"jurisdiction"`
	TokenSymbol  string          `json:"token_symbol"`
	TargetRaise  decimal.Decimal `json:"target_raise"`
	Description  string          `json:"description"`
}

type AdvancePhaseRequest struct {
	ToPhase   string   `json:"to_phase" binding:"required"`
	Assignees []string `json:"assignees"`
}

type ProjectResponse struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	AssetClass   string          `json:"asset_class"`
	Jurisdiction string          `json:"jurisdiction"`
	TokenSymbol  string          `json:"token_symbol"`
	TargetRaise  decimal.Decimal `json:"target_raise"`
	Description  string          `json:"description"`
	Phase        string          `json:"phase"`
	NextPhase    string          `json:"next_phase,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// --- Interface ---

type ProjectService interface {
	CreateProject(ctx context.Context, userID string, req CreateProjectRequest) (*ProjectResponse, error)
	GetProject(ctx context.Context, id string) (*ProjectResponse, error)
	ListProjects(ctx context.Context, phase string, page, limit int) ([]ProjectResponse, int64, error)
	// RequestPhaseAdvance opens an approval request to move the project to req.ToPhase.
	// The phase itself only changes once the request's quorum is met.
	RequestPhaseAdvance(ctx context.Context, id, userID string, req AdvancePhaseRequest) (*ApprovalRequestResponse, error)
}

type projectService struct {
	repo      repository.ProjectRepository
	auditRepo repository.AuditRepository
	manager   *approval.Manager
	tm        repository.TransactionManager
}

func NewProjectService(repo repository.ProjectRepository, auditRepo repository.AuditRepository, manager *approval.Manager, tm repository.TransactionManager) ProjectService {
	return &projectService{repo: repo, auditRepo: auditRepo, manager: manager, tm: tm}
}

// --- Implementation ---

func (s *projectService) CreateProject(ctx context.Context, userID string, req CreateProjectRequest) (*ProjectResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: code and name are required", ErrValidation)
	}
	if req.TargetRaise.IsNegative() {
		return nil, fmt.Errorf("%w: target_raise must not be negative", ErrValidation)
	}

	project := &model.Project{
		Code:         code,
		Name:         strings.TrimSpace(req.Name),
		AssetClass:   strings.ToUpper(strings.TrimSpace(req.AssetClass)),
		Jurisdiction: strings.ToUpper(strings.TrimSpace(req.Jurisdiction)),
		TokenSymbol:  strings.ToUpper(strings.TrimSpace(req.TokenSymbol)),
		TargetRaise:  req.TargetRaise,
		Description:  req.Description,
		Phase:        model.PhaseDraft,
		CreatedBy:    parseUserID(userID),
	}

	err := s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, project); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: project code %s", ErrAlreadyExists, code)
			}
			return fmt.Errorf("failed to create project: %w", err)
		}
		details, _ := json.Marshal(map[string]any{"code": project.Code, "name": project.Name, "asset_class": project.AssetClass})
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     project.CreatedBy,
			Action:     model.ActionCreateProject,
			EntityType: model.EntityProject,
			EntityID:   project.ID.String(),
			After:      project.Phase,
			Details:    string(details),
		})
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "project created", "project_id", project.ID, "code", project.Code)
	return toProjectResponse(project), nil
}

func (s *projectService) GetProject(ctx context.Context, id string) (*ProjectResponse, error) {
	project, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return toProjectResponse(project), nil
}

func (s *projectService) ListProjects(ctx context.Context, phase string, page, limit int) ([]ProjectResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	projects, total, err := s.repo.List(ctx, strings.ToUpper(phase), page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch projects: %w", err)
	}
	res := make([]ProjectResponse, 0, len(projects))
	for i := range projects {
		res = append(res, *toProjectResponse(&projects[i]))
	}
	return res, total, nil
}

func (s *projectService) RequestPhaseAdvance(ctx context.Context, id, userID string, req AdvancePhaseRequest) (*ApprovalRequestResponse, error) {
	projectID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	to := strings.ToUpper(strings.TrimSpace(req.ToPhase))

	// Settle expiry in its own commit so a lapsed request cannot keep the
	// project blocked when the advance below fails and rolls back.
	if _, err := s.manager.OpenFor(ctx, TargetKindProject, projectID.String()); err != nil {
		return nil, fmt.Errorf("failed to check open requests: %w", err)
	}

	var created *approval.Request
	err = s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		// The row lock serializes concurrent advance requests for one project.
		project, err := s.repo.FindByIDForUpdate(txCtx, projectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: project %s", ErrNotFound, id)
			}
			return fmt.Errorf("failed to load project: %w", err)
		}
		if !model.CanAdvance(project.Phase, to) {
			return fmt.Errorf("%w: project cannot move from %s to %s", ErrValidation, project.Phase, to)
		}

		open, err := s.manager.OpenFor(txCtx, TargetKindProject, project.ID.String())
		if err != nil {
			return fmt.Errorf("failed to check open requests: %w", err)
		}
		if len(open) > 0 {
			return fmt.Errorf("%w: request %s", ErrOpenRequest, open[0].ID)
		}

		created, err = s.manager.Create(txCtx, approval.CreateInput{
			ActionClass: approval.PhaseClass(project.Phase, to),
			Target: approval.TargetRef{
				Kind:      TargetKindProject,
				EntityID:  project.ID.String(),
				FromState: project.Phase,
				ToState:   to,
			},
			Initiator: userID,
			Assignees: req.Assignees,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	resp := toApprovalResponse(created)
	return &resp, nil
}

func (s *projectService) find(ctx context.Context, id string) (*model.Project, error) {
	projectID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	project, err := s.repo.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return project, nil
}

// --- Applier ---

// PhaseApplier moves a project between phases when a phase request reaches its quorum.
type PhaseApplier struct {
	repo repository.ProjectRepository
}

var _ approval.TransitionApplier = (*PhaseApplier)(nil)

func NewPhaseApplier(repo repository.ProjectRepository) *PhaseApplier {
	return &PhaseApplier{repo: repo}
}

// ApplyTransition updates projects.phase, guarded on the phase the request was opened from.
func (a *PhaseApplier) ApplyTransition(ctx context.Context, target approval.TargetRef, from, to string) error {
	if target.Kind != TargetKindProject {
		return fmt.Errorf("%w: phase applier cannot handle %q targets", approval.ErrNotSupported, target.Kind)
	}
	projectID, err := uuid.Parse(target.EntityID)
	if err != nil {
		return fmt.Errorf("%w: project id %q", approval.ErrInvalidInput, target.EntityID)
	}
	if err := a.repo.UpdatePhase(ctx, projectID, from, to); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return fmt.Errorf("%w: project %s is no longer in phase %s", approval.ErrConflict, projectID, from)
		}
		return fmt.Errorf("failed to update project phase: %w", err)
	}
	slog.InfoContext(ctx, "project phase advanced", "project_id", projectID, "from", from, "to", to)
	return nil
}

// --- Helpers ---

func parseUserID(id string) *uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &parsed
}

func toProjectResponse(p *model.Project) *ProjectResponse {
	createdBy := ""
	if p.CreatedBy != nil {
		createdBy = p.CreatedBy.String()
	}
	return &ProjectResponse{
		ID:           p.ID.String(),
		Code:         p.Code,
		Name:         p.Name,
		AssetClass:   p.AssetClass,
		Jurisdiction: p.Jurisdiction,
		TokenSymbol:  p.TokenSymbol,
		TargetRaise:  p.TargetRaise,
		Description:  p.Description,
		Phase:        p.Phase,
		NextPhase:    model.NextPhase(p.Phase),
		CreatedBy:    createdBy,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}
}
