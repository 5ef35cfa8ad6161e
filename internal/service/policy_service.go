package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/model"
	"rwaadmin/internal/repository"
)

// --- DTOs ---

// PolicyRequest is the editable part of an approval policy. The version is
// assigned by the store.
type PolicyRequest struct {
	ActionClass       string   `json:"action_class" binding:"required"`
	AuthorizedRoles   []string `json:"authorized_roles"`
	OverrideRoles     []string `json:"override_roles"`
	InitiatorRoles    []string `json:"initiator_roles"`
	RejectRoles       []string `json:"reject_roles"`
	ExecuteRoles      []string `json:"execute_roles"`
	QuorumMode        string   `json:"quorum_mode"`
	QuorumThreshold   int      `json:"quorum_threshold" binding:"required"`
	ExpirySeconds     int64    `json:"expiry_seconds"`
	AutoApplyOnQuorum bool     `json:"auto_apply_on_quorum"`
	NotifyRoles       []string `json:"notify_roles"`
	NotifyAll         bool     `json:"notify_all"`
}

type PolicyResponse struct {
	approval.Policy
	UpdatedBy string `json:"updated_by,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// --- Interface ---

// PolicyService manages approval policies and resolves them for the engine.
type PolicyService interface {
	approval.PolicyResolver
	ListPolicies(ctx context.Context) ([]PolicyResponse, error)
	GetPolicy(ctx context.Context, actionClass string) (*PolicyResponse, error)
	UpsertPolicy(ctx context.Context, userID string, req PolicyRequest) (*PolicyResponse, error)
	DeletePolicy(ctx context.Context, userID, actionClass string) error
	// ImportPolicies upserts every policy in one transaction and returns how many were written.
	ImportPolicies(ctx context.Context, userID string, policies []approval.Policy) (int, error)
}

type policyService struct {
	repo      repository.PolicyRepository
	auditRepo repository.AuditRepository
	tm        repository.TransactionManager
}

func NewPolicyService(repo repository.PolicyRepository, auditRepo repository.AuditRepository, tm repository.TransactionManager) PolicyService {
	return &policyService{repo: repo, auditRepo: auditRepo, tm: tm}
}

// --- Implementation ---

// Resolve implements approval.PolicyResolver.
func (s *policyService) Resolve(ctx context.Context, actionClass string) (approval.Policy, error) {
	row, err := s.repo.FindByActionClass(ctx, actionClass)
	if err != nil {
		return approval.Policy{}, err
	}
	return toPolicy(row), nil
}

func (s *policyService) ListPolicies(ctx context.Context) ([]PolicyResponse, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch approval policies: %w", err)
	}
	res := make([]PolicyResponse, 0, len(rows))
	for i := range rows {
		res = append(res, toPolicyResponse(&rows[i]))
	}
	return res, nil
}

func (s *policyService) GetPolicy(ctx context.Context, actionClass string) (*PolicyResponse, error) {
	row, err := s.repo.FindByActionClass(ctx, actionClass)
	if err != nil {
		return nil, err
	}
	resp := toPolicyResponse(row)
	return &resp, nil
}

func (s *policyService) UpsertPolicy(ctx context.Context, userID string, req PolicyRequest) (*PolicyResponse, error) {
	policy := approval.Policy{
		ActionClass:       req.ActionClass,
		AuthorizedRoles:   req.AuthorizedRoles,
		OverrideRoles:     req.OverrideRoles,
		InitiatorRoles:    req.InitiatorRoles,
		RejectRoles:       req.RejectRoles,
		ExecuteRoles:      req.ExecuteRoles,
		QuorumMode:        approval.QuorumMode(req.QuorumMode),
		QuorumThreshold:   req.QuorumThreshold,
		ExpirySeconds:     req.ExpirySeconds,
		AutoApplyOnQuorum: req.AutoApplyOnQuorum,
		NotifyRoles:       req.NotifyRoles,
		NotifyAll:         req.NotifyAll,
	}

	var row *model.ApprovalPolicy
	err := s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		row, err = s.upsert(txCtx, userID, policy)
		return err
	})
	if err != nil {
		return nil, err
	}
	resp := toPolicyResponse(row)
	return &resp, nil
}

func (s *policyService) DeletePolicy(ctx context.Context, userID, actionClass string) error {
	return s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Delete(txCtx, actionClass); err != nil {
			return err
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     parseUserID(userID),
			Action:     model.ActionDeletePolicy,
			EntityType: model.EntityPolicy,
			EntityID:   actionClass,
			Details:    "{}",
		})
	})
}

func (s *policyService) ImportPolicies(ctx context.Context, userID string, policies []approval.Policy) (int, error) {
	err := s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		for _, p := range policies {
			if _, err := s.upsert(txCtx, userID, p); err != nil {
				return fmt.Errorf("policy %s: %w", p.ActionClass, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "approval policies imported", "count", len(policies))
	return len(policies), nil
}

// upsert validates and stores one policy with its audit entry. It must run inside a transaction.
func (s *policyService) upsert(ctx context.Context, userID string, p approval.Policy) (*model.ApprovalPolicy, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	row := &model.ApprovalPolicy{
		ActionClass:       p.ActionClass,
		AuthorizedRoles:   model.StringList(p.AuthorizedRoles),
		OverrideRoles:     model.StringList(p.OverrideRoles),
		InitiatorRoles:    model.StringList(p.InitiatorRoles),
		RejectRoles:       model.StringList(p.RejectRoles),
		ExecuteRoles:      model.StringList(p.ExecuteRoles),
		NotifyRoles:       model.StringList(p.NotifyRoles),
		NotifyAll:         p.NotifyAll,
		QuorumMode:        string(p.QuorumMode),
		QuorumThreshold:   p.QuorumThreshold,
		ExpirySeconds:     p.ExpirySeconds,
		AutoApplyOnQuorum: p.AutoApplyOnQuorum,
		UpdatedBy:         parseUserID(userID),
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to save approval policy: %w", err)
	}

	details, _ := json.Marshal(toPolicy(row))
	if err := s.auditRepo.Log(ctx, &model.AuditLog{
		UserID:     row.UpdatedBy,
		Action:     model.ActionUpsertPolicy,
		EntityType: model.EntityPolicy,
		EntityID:   row.ActionClass,
		After:      fmt.Sprintf("v%d", row.Version),
		Details:    string(details),
	}); err != nil {
		return nil, fmt.Errorf("failed to write audit log: %w", err)
	}
	return row, nil
}

// --- Helpers ---

func toPolicy(row *model.ApprovalPolicy) approval.Policy {
	return approval.Policy{
		ActionClass:       row.ActionClass,
		AuthorizedRoles:   []string(row.AuthorizedRoles),
		OverrideRoles:     []string(row.OverrideRoles),
		InitiatorRoles:    []string(row.InitiatorRoles),
		RejectRoles:       []string(row.RejectRoles),
		ExecuteRoles:      []string(row.ExecuteRoles),
		QuorumMode:        approval.QuorumMode(row.QuorumMode),
		QuorumThreshold:   row.QuorumThreshold,
		ExpirySeconds:     row.ExpirySeconds,
		AutoApplyOnQuorum: row.AutoApplyOnQuorum,
		NotifyRoles:       []string(row.NotifyRoles),
		NotifyAll:         row.NotifyAll,
		Version:           row.Version,
	}.Clone()
}

func toPolicyResponse(row *model.ApprovalPolicy) PolicyResponse {
	resp := PolicyResponse{
		Policy:    toPolicy(row),
		UpdatedAt: formatTime(row.UpdatedAt),
	}
	if row.UpdatedBy != nil {
		resp.UpdatedBy = row.UpdatedBy.String()
	}
	return resp
}
