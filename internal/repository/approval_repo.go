package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApprovalStore persists approval requests and their ledger in postgres.
// Atomically holds the request row with SELECT ... FOR UPDATE for the
// duration of the callback; status writes are additionally guarded by the
// version column.
type ApprovalStore struct {
	db *gorm.DB
	tm TransactionManager
}

var _ approval.Store = (*ApprovalStore)(nil)

func NewApprovalStore(db *gorm.DB, tm TransactionManager) *ApprovalStore {
	return &ApprovalStore{db: db, tm: tm}
}

func (s *ApprovalStore) CreateRequest(ctx context.Context, req *approval.Request) error {
	row, err := toRequestRow(req)
	if err != nil {
		return err
	}
	if err := GetDB(ctx, s.db).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: request %s already exists", approval.ErrConflict, req.ID)
		}
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

func (s *ApprovalStore) GetRequest(ctx context.Context, id string) (*approval.Request, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	var row model.ApprovalRequest
	if err := GetDB(ctx, s.db).First(&row, "id = ?", uid).Error; err != nil {
		return nil, notFound(err, id)
	}
	return fromRequestRow(row)
}

func (s *ApprovalStore) ListRequests(ctx context.Context, f approval.Filter) ([]*approval.Request, int64, error) {
	filtered := func(db *gorm.DB) *gorm.DB {
		if f.Status != "" {
			db = db.Where("status = ?", string(f.Status))
		}
		if f.ActionClass != "" {
			db = db.Where("action_class = ?", f.ActionClass)
		}
		if f.TargetKind != "" {
			db = db.Where("target_kind = ?", f.TargetKind)
		}
		if f.TargetID != "" {
			db = db.Where("target_id = ?", f.TargetID)
		}
		return db
	}

	db := GetDB(ctx, s.db)
	var total int64
	if err := db.Model(&model.ApprovalRequest{}).Scopes(filtered).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count approval requests: %w", err)
	}

	fetch := db.Scopes(filtered).Order("created_at DESC")
	if f.Limit > 0 {
		page := max(f.Page, 1)
		fetch = fetch.Offset((page - 1) * f.Limit).Limit(f.Limit)
	}
	var rows []model.ApprovalRequest
	if err := fetch.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch approval requests: %w", err)
	}

	out := make([]*approval.Request, 0, len(rows))
	for _, row := range rows {
		req, err := fromRequestRow(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, nil
}

func (s *ApprovalStore) ListRecords(ctx context.Context, requestID string) ([]approval.Record, error) {
	uid, err := uuid.Parse(requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, requestID)
	}
	return listRecords(GetDB(ctx, s.db), uid)
}

// Atomically runs fn inside a transaction holding the request row lock.
func (s *ApprovalStore) Atomically(ctx context.Context, requestID string, fn func(ctx context.Context, tx approval.Tx) error) error {
	uid, err := uuid.Parse(requestID)
	if err != nil {
		return fmt.Errorf("%w: %s", approval.ErrNotFound, requestID)
	}
	return s.tm.RunInTx(ctx, func(txCtx context.Context) error {
		db := GetDB(txCtx, s.db)
		var row model.ApprovalRequest
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", uid).Error; err != nil {
			return notFound(err, requestID)
		}
		req, err := fromRequestRow(row)
		if err != nil {
			return err
		}
		return fn(txCtx, &gormTx{db: db, id: uid, req: req})
	})
}

type gormTx struct {
	db  *gorm.DB
	id  uuid.UUID
	req *approval.Request
}

func (t *gormTx) Request(_ context.Context) (*approval.Request, error) {
	return t.req.Clone(), nil
}

func (t *gormTx) ListFor(_ context.Context) ([]approval.Record, error) {
	return listRecords(t.db, t.id)
}

func (t *gormTx) Append(_ context.Context, rec approval.Record) (approval.Record, error) {
	var seq int
	if err := t.db.Model(&model.ApprovalRecord{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("request_id = ?", t.id).
		Scan(&seq).Error; err != nil {
		return approval.Record{}, fmt.Errorf("failed to read ledger sequence: %w", err)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	row := model.ApprovalRecord{
		ID:           uuid.New(),
		RequestID:    t.id,
		ApproverID:   rec.ApproverID,
		ApproverRole: rec.ApproverRole,
		Weight:       max(rec.Weight, 1),
		Seq:          seq + 1,
		Notes:        rec.Notes,
		CreatedAt:    rec.CreatedAt,
	}
	if err := t.db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return approval.Record{}, fmt.Errorf("%w: %s on %s", approval.ErrDuplicateApproval, rec.ApproverID, t.id)
		}
		return approval.Record{}, fmt.Errorf("failed to append approval record: %w", err)
	}
	return fromRecordRow(row), nil
}

// Update writes the request if its version is unchanged and bumps the version.
func (t *gormTx) Update(_ context.Context, req *approval.Request) error {
	res := t.db.Model(&model.ApprovalRequest{}).
		Where("id = ? AND version = ?", t.id, req.Version).
		Updates(map[string]any{
			"status":     string(req.Status),
			"version":    req.Version + 1,
			"tipped_by":  req.TippedBy,
			"decided_by": req.DecidedBy,
			"decided_at": req.DecidedAt,
			"reason":     req.Reason,
			"updated_at": req.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update approval request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s at version %d", approval.ErrConflict, t.id, req.Version)
	}
	req.Version++
	t.req = req.Clone()
	return nil
}

func listRecords(db *gorm.DB, requestID uuid.UUID) ([]approval.Record, error) {
	var rows []model.ApprovalRecord
	if err := db.Where("request_id = ?", requestID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list approval records: %w", err)
	}
	out := make([]approval.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRecordRow(row))
	}
	return out, nil
}

func toRequestRow(req *approval.Request) (model.ApprovalRequest, error) {
	uid, err := uuid.Parse(req.ID)
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("%w: request id %q is not a uuid", approval.ErrInvalidInput, req.ID)
	}
	snapshot, err := json.Marshal(req.Policy)
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("failed to encode policy snapshot: %w", err)
	}
	return model.ApprovalRequest{
		ID:             uid,
		ActionClass:    req.ActionClass,
		TargetKind:     req.Target.Kind,
		TargetID:       req.Target.EntityID,
		FromState:      req.Target.FromState,
		ToState:        req.Target.ToState,
		Digest:         req.Target.Digest,
		PolicySnapshot: string(snapshot),
		Status:         string(req.Status),
		Assignees:      model.StringList(req.Assignees),
		RequestedBy:    req.CreatedBy,
		ExpiresAt:      req.ExpiresAt,
		Version:        req.Version,
		TippedBy:       req.TippedBy,
		DecidedBy:      req.DecidedBy,
		DecidedAt:      req.DecidedAt,
		Reason:         req.Reason,
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
	}, nil
}

func fromRequestRow(row model.ApprovalRequest) (*approval.Request, error) {
	var policy approval.Policy
	if err := json.Unmarshal([]byte(row.PolicySnapshot), &policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy snapshot of %s: %w", row.ID, err)
	}
	req := &approval.Request{
		ID:          row.ID.String(),
		ActionClass: row.ActionClass,
		Target: approval.TargetRef{
			Kind:      row.TargetKind,
			EntityID:  row.TargetID,
			FromState: row.FromState,
			ToState:   row.ToState,
			Digest:    row.Digest,
		},
		Policy:    policy,
		Status:    approval.Status(row.Status),
		Assignees: []string(row.Assignees),
		CreatedBy: row.RequestedBy,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
		Version:   row.Version,
		TippedBy:  row.TippedBy,
		DecidedBy: row.DecidedBy,
		DecidedAt: row.DecidedAt,
		Reason:    row.Reason,
		UpdatedAt: row.UpdatedAt,
	}
	return req, nil
}

func fromRecordRow(row model.ApprovalRecord) approval.Record {
	return approval.Record{
		RequestID:    row.RequestID.String(),
		ApproverID:   row.ApproverID,
		ApproverRole: row.ApproverRole,
		Weight:       row.Weight,
		Seq:          row.Seq,
		Notes:        row.Notes,
		CreatedAt:    row.CreatedAt,
	}
}

func notFound(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	return fmt.Errorf("failed to load approval request: %w", err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
