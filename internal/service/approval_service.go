package service

import (
	"context"
	"errors"
	"time"

	"rwaadmin/internal/approval"
)

// --- DTOs ---

type ApprovalFilter struct {
	Status      string
	ActionClass string
	TargetKind  string
	TargetID    string
	Page        int
	Limit       int
}

type ApproveRequestDTO struct {
	Notes string `json:"notes"`
}

type RejectRequestDTO struct {
	Reason string `json:"reason"`
}

type ApprovalRequestResponse struct {
	ID          string             `json:"id"`
	ActionClass string             `json:"action_class"`
	Target      approval.TargetRef `json:"target"`
	Status      string             `json:"status"`
	QuorumMode  string             `json:"quorum_mode"`
	Threshold   int                `json:"quorum_threshold"`
	AutoApply   bool               `json:"auto_apply_on_quorum"`
	PolicyVer   int                `json:"policy_version"`
	Assignees   []string           `json:"assignees"`
	CreatedBy   string             `json:"created_by"`
	TippedBy    string             `json:"tipped_by,omitempty"`
	DecidedBy   string             `json:"decided_by,omitempty"`
	DecidedAt   *string            `json:"decided_at"`
	Reason      string             `json:"reason,omitempty"`
	ExpiresAt   *string            `json:"expires_at"`
	Version     int                `json:"version"`
	CreatedAt   string             `json:"created_at"`
}

type ApprovalRecordResponse struct {
	ApproverID   string `json:"approver_id"`
	ApproverRole string `json:"approver_role"`
	Weight       int    `json:"weight"`
	Seq          int    `json:"seq"`
	Notes        string `json:"notes,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ApprovalDetailResponse is a request with its ledger in append order and the current tally.
type ApprovalDetailResponse struct {
	ApprovalRequestResponse
	Records []ApprovalRecordResponse `json:"records"`
	Tally   approval.Tally           `json:"tally"`
}

type ApproveResponse struct {
	Request    ApprovalRequestResponse `json:"request"`
	Record     *ApprovalRecordResponse `json:"record,omitempty"`
	Tally      approval.Tally          `json:"tally"`
	Dispatched bool                    `json:"dispatched"`
	Duplicate  bool                    `json:"duplicate"`
}

// --- Interface ---

type ApprovalService interface {
	ListApprovalRequests(ctx context.Context, filter ApprovalFilter) ([]ApprovalRequestResponse, int64, error)
	GetApprovalRequest(ctx context.Context, id string) (*ApprovalDetailResponse, error)
	ApproveRequest(ctx context.Context, id, userID, notes string) (*ApproveResponse, error)
	RejectRequest(ctx context.Context, id, userID, reason string) (*ApprovalRequestResponse, error)
	ExecuteRequest(ctx context.Context, id, userID string) (*ApprovalRequestResponse, error)
}

type approvalService struct {
	manager *approval.Manager
}

func NewApprovalService(manager *approval.Manager) ApprovalService {
	return &approvalService{manager: manager}
}

// --- Implementation ---

func (s *approvalService) ListApprovalRequests(ctx context.Context, filter ApprovalFilter) ([]ApprovalRequestResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	reqs, total, err := s.manager.List(ctx, approval.Filter{
		Status:      approval.Status(filter.Status),
		ActionClass: filter.ActionClass,
		TargetKind:  filter.TargetKind,
		TargetID:    filter.TargetID,
		Page:        filter.Page,
		Limit:       filter.Limit,
	})
	if err != nil {
		return nil, 0, err
	}

	result := make([]ApprovalRequestResponse, 0, len(reqs))
	for _, r := range reqs {
		result = append(result, toApprovalResponse(r))
	}
	return result, total, nil
}

func (s *approvalService) GetApprovalRequest(ctx context.Context, id string) (*ApprovalDetailResponse, error) {
	req, err := s.manager.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.manager.Records(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ApprovalDetailResponse{
		ApprovalRequestResponse: toApprovalResponse(req),
		Records:                 toRecordResponses(records),
		Tally:                   approval.Evaluate(req.Policy, records),
	}, nil
}

// ApproveRequest records an approval. A repeated approval is not an error for
// the caller: the current state is returned with Duplicate set.
func (s *approvalService) ApproveRequest(ctx context.Context, id, userID, notes string) (*ApproveResponse, error) {
	res, err := s.manager.Approve(ctx, id, userID, notes)
	if errors.Is(err, approval.ErrDuplicateApproval) {
		req, getErr := s.manager.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		tally, tallyErr := s.manager.Tally(ctx, id)
		if tallyErr != nil {
			return nil, tallyErr
		}
		return &ApproveResponse{Request: toApprovalResponse(req), Tally: tally, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	rec := toRecordResponse(res.Record)
	return &ApproveResponse{
		Request:    toApprovalResponse(res.Request),
		Record:     &rec,
		Tally:      res.Tally,
		Dispatched: res.Dispatched,
	}, nil
}

func (s *approvalService) RejectRequest(ctx context.Context, id, userID, reason string) (*ApprovalRequestResponse, error) {
	req, err := s.manager.Reject(ctx, id, userID, reason)
	if err != nil {
		return nil, err
	}
	resp := toApprovalResponse(req)
	return &resp, nil
}

func (s *approvalService) ExecuteRequest(ctx context.Context, id, userID string) (*ApprovalRequestResponse, error) {
	req, err := s.manager.Execute(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	resp := toApprovalResponse(req)
	return &resp, nil
}

// --- Helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toApprovalResponse(r *approval.Request) ApprovalRequestResponse {
	assignees := r.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return ApprovalRequestResponse{
		ID:          r.ID,
		ActionClass: r.ActionClass,
		Target:      r.Target,
		Status:      string(r.Status),
		QuorumMode:  string(r.Policy.QuorumMode),
		Threshold:   r.Policy.QuorumThreshold,
		AutoApply:   r.Policy.AutoApplyOnQuorum,
		PolicyVer:   r.Policy.Version,
		Assignees:   assignees,
		CreatedBy:   r.CreatedBy,
		TippedBy:    r.TippedBy,
		DecidedBy:   r.DecidedBy,
		DecidedAt:   formatTimePtr(r.DecidedAt),
		Reason:      r.Reason,
		ExpiresAt:   formatTimePtr(r.ExpiresAt),
		Version:     r.Version,
		CreatedAt:   formatTime(r.CreatedAt),
	}
}

func toRecordResponse(rec approval.Record) ApprovalRecordResponse {
	return ApprovalRecordResponse{
		ApproverID:   rec.ApproverID,
		ApproverRole: rec.ApproverRole,
		Weight:       rec.Weight,
		Seq:          rec.Seq,
		Notes:        rec.Notes,
		CreatedAt:    formatTime(rec.CreatedAt),
	}
}

func toRecordResponses(records []approval.Record) []ApprovalRecordResponse {
	out := make([]ApprovalRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	return out
}
