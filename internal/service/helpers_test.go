package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/approval/memory"
	"rwaadmin/internal/model"
	"rwaadmin/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// passthroughTM runs fn without a database transaction.
type passthroughTM struct{}

func (passthroughTM) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type directory map[string]approval.Approver

func (d directory) Lookup(_ context.Context, userID string) (approval.Approver, error) {
	a, ok := d[userID]
	if !ok {
		return approval.Approver{}, fmt.Errorf("%w: unknown user %s", approval.ErrUnauthorized, userID)
	}
	return a, nil
}

type fakeProjects struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Project
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{rows: map[uuid.UUID]*model.Project{}}
}

func (f *fakeProjects) add(phase string) *model.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &model.Project{ID: uuid.New(), Code: "OAK-1", Name: "Oak Tower", Phase: phase}
	f.rows[p.ID] = p
	return p
}

func (f *fakeProjects) phase(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Phase
}

func (f *fakeProjects) Create(_ context.Context, p *model.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = uuid.New()
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *fakeProjects) FindByID(_ context.Context, id uuid.UUID) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProjects) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeProjects) List(_ context.Context, _ string, _, _ int) ([]model.Project, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Project, 0, len(f.rows))
	for _, p := range f.rows {
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (f *fakeProjects) UpdatePhase(_ context.Context, id uuid.UUID, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok || p.Phase != from {
		return repository.ErrStaleState
	}
	p.Phase = to
	return nil
}

type fakeTransactions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Transaction
}

func newFakeTransactions() *fakeTransactions {
	return &fakeTransactions{rows: map[uuid.UUID]*model.Transaction{}}
}

func (f *fakeTransactions) get(id uuid.UUID) model.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

func (f *fakeTransactions) Create(_ context.Context, tx *model.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx.ID = uuid.New()
	cp := *tx
	f.rows[tx.ID] = &cp
	return nil
}

func (f *fakeTransactions) FindByID(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeTransactions) List(_ context.Context, _ repository.TransactionFilter) ([]model.Transaction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Transaction, 0, len(f.rows))
	for _, tx := range f.rows {
		out = append(out, *tx)
	}
	return out, int64(len(out)), nil
}

func (f *fakeTransactions) LinkApproval(_ context.Context, id, requestID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].ApprovalRequestID = &requestID
	return nil
}

func (f *fakeTransactions) TransitionStatus(_ context.Context, id uuid.UUID, from []string, to string, executedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.rows[id]
	if !ok || !slices.Contains(from, tx.Status) {
		return repository.ErrStaleState
	}
	tx.Status = to
	if executedAt != nil {
		tx.ExecutedAt = executedAt
	}
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (f *fakeAudit) Log(_ context.Context, entry *model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAudit) Record(ctx context.Context, e approval.AuditEntry) error {
	return f.Log(ctx, &model.AuditLog{Action: e.Action, EntityType: e.EntityType, EntityID: e.EntityID})
}

func (f *fakeAudit) List(_ context.Context, _ repository.AuditFilter) ([]model.AuditLog, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.entries), int64(len(f.entries)), nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// engine wires the approval manager over the memory store and the fake repositories.
type engine struct {
	manager      *approval.Manager
	projects     *fakeProjects
	transactions *fakeTransactions
	audit        *fakeAudit
	people       directory
	skew         time.Duration
}

func newEngine(t *testing.T, policies ...approval.Policy) *engine {
	t.Helper()
	resolver, err := approval.NewStaticResolver(policies...)
	require.NoError(t, err)

	e := &engine{
		projects:     newFakeProjects(),
		transactions: newFakeTransactions(),
		audit:        &fakeAudit{},
		people: directory{
			"op":   {ID: "op", Roles: []string{model.RoleOperator}, Weight: 1},
			"comp": {ID: "comp", Roles: []string{model.RoleCompliance}, Weight: 1},
			"cust": {ID: "cust", Roles: []string{model.RoleCustody}, Weight: 1},
			"s1":   {ID: "s1", Roles: []string{model.RoleSigner}, Weight: 2},
			"s2":   {ID: "s2", Roles: []string{model.RoleSigner}, Weight: 1},
		},
	}
	dispatcher := approval.NewDispatcher(approval.DispatcherConfig{
		Transitions: NewPhaseApplier(e.projects),
		Executions:  NewTransactionApplier(e.transactions),
		Audit:       e.audit,
	})
	clock := func() time.Time { return time.Now().Add(e.skew) }
	e.manager = approval.NewManager(resolver, memory.New(), e.people, dispatcher, approval.WithClock(clock))
	return e
}

func draftToDiligence() approval.Policy {
	return approval.Policy{
		ActionClass:       approval.PhaseClass(model.PhaseDraft, model.PhaseDueDiligence),
		AuthorizedRoles:   []string{model.RoleCompliance, model.RoleCustody},
		InitiatorRoles:    []string{model.RoleOperator},
		QuorumMode:        approval.QuorumCount,
		QuorumThreshold:   2,
		AutoApplyOnQuorum: true,
	}
}

func mintPolicy() approval.Policy {
	return approval.Policy{
		ActionClass:     approval.TransactionClass(model.TxTypeMint),
		AuthorizedRoles: []string{model.RoleSigner},
		InitiatorRoles:  []string{model.RoleOperator},
		QuorumMode:      approval.QuorumWeight,
		QuorumThreshold: 3,
	}
}
