package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/model"
	"rwaadmin/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TargetKindTransaction marks approval targets that are platform transactions.
const TargetKindTransaction = "transaction"

// --- DTOs ---

type CreateTransactionRequest struct {
	ProjectID   string          `json:"project_id"`
	Type        string          `json:"type" binding:"required"`
	AssetSymbol string          `json:"asset_symbol" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Destination string          `json:"destination"`
	Memo        string          `json:"memo"`
	Assignees   []string        `json:"assignees"`
}

type TransactionListFilter struct {
	Status    string
	Type      string
	ProjectID string
	Page      int
	Limit     int
}

type TransactionResponse struct {
	ID                string          `json:"id"`
	Reference         string          `json:"reference"`
	ProjectID         string          `json:"project_id,omitempty"`
	ProjectCode       string          `json:"project_code,omitempty"`
	Type              string          `json:"type"`
	AssetSymbol       string          `json:"asset_symbol"`
	Amount            decimal.Decimal `json:"amount"`
	Destination       string          `json:"destination"`
	Memo              string          `json:"memo"`
	Digest            string          `json:"digest"`
	Status            string          `json:"status"`
	ApprovalRequestID string          `json:"approval_request_id,omitempty"`
	CreatedBy         string          `json:"created_by,omitempty"`
	ExecutedAt        *string         `json:"executed_at"`
	CreatedAt         string          `json:"created_at"`
}

// CreateTransactionResponse pairs the new transaction with its approval request.
type CreateTransactionResponse struct {
	Transaction TransactionResponse     `json:"transaction"`
	Approval    ApprovalRequestResponse `json:"approval"`
}

// --- Interface ---

type TransactionService interface {
	CreateTransaction(ctx context.Context, userID string, req CreateTransactionRequest) (*CreateTransactionResponse, error)
	GetTransaction(ctx context.Context, id string) (*TransactionResponse, error)
	ListTransactions(ctx context.Context, filter TransactionListFilter) ([]TransactionResponse, int64, error)
	// ExecuteTransaction executes a transaction whose approval request is READY.
	ExecuteTransaction(ctx context.Context, id, userID string) (*TransactionResponse, error)
}

type transactionService struct {
	repo      repository.TransactionRepository
	projects  repository.ProjectRepository
	auditRepo repository.AuditRepository
	manager   *approval.Manager
	tm        repository.TransactionManager
}

func NewTransactionService(repo repository.TransactionRepository, projects repository.ProjectRepository, auditRepo repository.AuditRepository, manager *approval.Manager, tm repository.TransactionManager) TransactionService {
	return &transactionService{repo: repo, projects: projects, auditRepo: auditRepo, manager: manager, tm: tm}
}

// --- Implementation ---

func (s *transactionService) CreateTransaction(ctx context.Context, userID string, req CreateTransactionRequest) (*CreateTransactionResponse, error) {
	txType := strings.ToUpper(strings.TrimSpace(req.Type))
	if !model.IsTxType(txType) {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, req.Type)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.AssetSymbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: asset_symbol is required", ErrValidation)
	}
	if txType == model.TxTypeTransfer && strings.TrimSpace(req.Destination) == "" {
		return nil, fmt.Errorf("%w: transfers need a destination", ErrValidation)
	}

	tx := &model.Transaction{
		Reference:   newReference(),
		Type:        txType,
		AssetSymbol: symbol,
		Amount:      req.Amount,
		Destination: strings.TrimSpace(req.Destination),
		Memo:        req.Memo,
		Status:      model.TxStatusPendingApproval,
		CreatedBy:   parseUserID(userID),
	}

	var created *approval.Request
	err := s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		if req.ProjectID != "" {
			projectID, err := uuid.Parse(req.ProjectID)
			if err != nil {
				return fmt.Errorf("%w: project_id is not a uuid", ErrValidation)
			}
			project, err := s.projects.FindByID(txCtx, projectID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: project %s", ErrNotFound, req.ProjectID)
				}
				return fmt.Errorf("failed to load project: %w", err)
			}
			if project.Phase == model.PhaseArchived {
				return fmt.Errorf("%w: project %s is archived", ErrValidation, project.Code)
			}
			tx.ProjectID = &project.ID
		}
		tx.Digest = PayloadDigest(tx)

		if err := s.repo.Create(txCtx, tx); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		var err error
		created, err = s.manager.Create(txCtx, approval.CreateInput{
			ActionClass: approval.TransactionClass(tx.Type),
			Target: approval.TargetRef{
				Kind:     TargetKindTransaction,
				EntityID: tx.ID.String(),
				ToState:  model.TxStatusExecuted,
				Digest:   tx.Digest,
			},
			Initiator: userID,
			Assignees: req.Assignees,
		})
		if err != nil {
			return err
		}

		requestID, err := uuid.Parse(created.ID)
		if err != nil {
			return fmt.Errorf("approval request id %q: %w", created.ID, err)
		}
		if err := s.repo.LinkApproval(txCtx, tx.ID, requestID); err != nil {
			return fmt.Errorf("failed to link approval request: %w", err)
		}
		tx.ApprovalRequestID = &requestID

		details, _ := json.Marshal(map[string]any{
			"reference": tx.Reference,
			"type":      tx.Type,
			"amount":    tx.Amount.String(),
			"asset":     tx.AssetSymbol,
			"digest":    tx.Digest,
		})
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     tx.CreatedBy,
			Action:     model.ActionCreateTransaction,
			EntityType: model.EntityTransaction,
			EntityID:   tx.ID.String(),
			After:      tx.Status,
			Details:    string(details),
		})
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "transaction submitted for approval",
		"transaction_id", tx.ID, "reference", tx.Reference, "request_id", created.ID)
	return &CreateTransactionResponse{
		Transaction: *toTransactionResponse(tx),
		Approval:    toApprovalResponse(created),
	}, nil
}

func (s *transactionService) GetTransaction(ctx context.Context, id string) (*TransactionResponse, error) {
	tx, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return toTransactionResponse(tx), nil
}

func (s *transactionService) ListTransactions(ctx context.Context, f TransactionListFilter) ([]TransactionResponse, int64, error) {
	filter := repository.TransactionFilter{
		Status: strings.ToUpper(f.Status),
		Type:   strings.ToUpper(f.Type),
		Page:   f.Page,
		Limit:  f.Limit,
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if f.ProjectID != "" {
		projectID, err := uuid.Parse(f.ProjectID)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: project_id is not a uuid", ErrValidation)
		}
		filter.ProjectID = &projectID
	}

	txs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	res := make([]TransactionResponse, 0, len(txs))
	for i := range txs {
		res = append(res, *toTransactionResponse(&txs[i]))
	}
	return res, total, nil
}

func (s *transactionService) ExecuteTransaction(ctx context.Context, id, userID string) (*TransactionResponse, error) {
	tx, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.ApprovalRequestID == nil {
		return nil, fmt.Errorf("%w: transaction %s has no approval request", approval.ErrNotReady, tx.Reference)
	}
	if _, err := s.manager.Execute(ctx, tx.ApprovalRequestID.String(), userID); err != nil {
		return nil, err
	}
	return s.GetTransaction(ctx, id)
}

func (s *transactionService) find(ctx context.Context, id string) (*model.Transaction, error) {
	txID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	tx, err := s.repo.FindByID(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return tx, nil
}

// --- Applier ---

// TransactionApplier mirrors approval outcomes onto the transactions table.
type TransactionApplier struct {
	repo repository.TransactionRepository
	now  func() time.Time
}

var (
	_ approval.ExecutionApplier = (*TransactionApplier)(nil)
	_ approval.Abandoner        = (*TransactionApplier)(nil)
)

func NewTransactionApplier(repo repository.TransactionRepository) *TransactionApplier {
	return &TransactionApplier{repo: repo, now: time.Now}
}

func (a *TransactionApplier) MarkExecutable(ctx context.Context, target approval.TargetRef) error {
	id, err := transactionTarget(target)
	if err != nil {
		return err
	}
	return a.transition(ctx, id, []string{model.TxStatusPendingApproval}, model.TxStatusExecutable, nil)
}

// MarkExecuted refuses to execute a transaction whose payload no longer matches
// the digest the approvers signed off on.
func (a *TransactionApplier) MarkExecuted(ctx context.Context, target approval.TargetRef) error {
	id, err := transactionTarget(target)
	if err != nil {
		return err
	}
	tx, err := a.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: transaction %s", approval.ErrNotFound, id)
		}
		return fmt.Errorf("failed to load transaction: %w", err)
	}
	if target.Digest != "" && PayloadDigest(tx) != target.Digest {
		return fmt.Errorf("%w: transaction %s payload differs from the approved digest", approval.ErrConflict, tx.Reference)
	}
	executedAt := a.now().UTC()
	return a.transition(ctx, id, []string{model.TxStatusExecutable}, model.TxStatusExecuted, &executedAt)
}

// Abandon implements approval.Abandoner.
func (a *TransactionApplier) Abandon(ctx context.Context, target approval.TargetRef, status approval.Status) error {
	id, err := transactionTarget(target)
	if err != nil {
		return err
	}
	var to string
	switch status {
	case approval.StatusRejected:
		to = model.TxStatusRejected
	case approval.StatusExpired:
		to = model.TxStatusExpired
	default:
		return fmt.Errorf("%w: cannot abandon transaction with status %s", approval.ErrInvalidInput, status)
	}
	return a.transition(ctx, id, []string{model.TxStatusPendingApproval, model.TxStatusExecutable}, to, nil)
}

func (a *TransactionApplier) transition(ctx context.Context, id uuid.UUID, from []string, to string, executedAt *time.Time) error {
	if err := a.repo.TransitionStatus(ctx, id, from, to, executedAt); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return fmt.Errorf("%w: transaction %s is not in %v", approval.ErrConflict, id, from)
		}
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	slog.InfoContext(ctx, "transaction status changed", "transaction_id", id, "status", to)
	return nil
}

func transactionTarget(target approval.TargetRef) (uuid.UUID, error) {
	if target.Kind != TargetKindTransaction {
		return uuid.Nil, fmt.Errorf("%w: transaction applier cannot handle %q targets", approval.ErrNotSupported, target.Kind)
	}
	id, err := uuid.Parse(target.EntityID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: transaction id %q", approval.ErrInvalidInput, target.EntityID)
	}
	return id, nil
}

// --- Helpers ---

// PayloadDigest is the hex SHA-256 of the fields approvers attest to.
func PayloadDigest(tx *model.Transaction) string {
	project := ""
	if tx.ProjectID != nil {
		project = tx.ProjectID.String()
	}
	canonical := strings.Join([]string{
		tx.Reference,
		tx.Type,
		project,
		tx.AssetSymbol,
		tx.Amount.String(),
		tx.Destination,
		tx.Memo,
	}, "\n")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func newReference() string {
	return "TX-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func toTransactionResponse(tx *model.Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		ID:          tx.ID.String(),
		Reference:   tx.Reference,
		Type:        tx.Type,
		AssetSymbol: tx.AssetSymbol,
		Amount:      tx.Amount,
		Destination: tx.Destination,
		Memo:        tx.Memo,
		Digest:      tx.Digest,
		Status:      tx.Status,
		ExecutedAt:  formatTimePtr(tx.ExecutedAt),
		CreatedAt:   formatTime(tx.CreatedAt),
	}
	if tx.ProjectID != nil {
		resp.ProjectID = tx.ProjectID.String()
	}
	if tx.Project != nil {
		resp.ProjectCode = tx.Project.Code
	}
	if tx.ApprovalRequestID != nil {
		resp.ApprovalRequestID = tx.ApprovalRequestID.String()
	}
	if tx.CreatedBy != nil {
		resp.CreatedBy = tx.CreatedBy.String()
	}
	return resp
}
