package approval_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rwaadmin/internal/approval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mintPolicy = approval.Policy{
	ActionClass:     approval.TransactionClass("MINT"),
	AuthorizedRoles: []string{"SIGNER"},
	OverrideRoles:   []string{"SUPER_ADMIN"},
	InitiatorRoles:  []string{"OPERATOR"},
	QuorumMode:      approval.QuorumWeight,
	QuorumThreshold: 3,
	ExpirySeconds:   3600,
	NotifyRoles:     []string{"SIGNER"},
}

var phasePolicy = approval.Policy{
	ActionClass:       approval.PhaseClass("LEGAL_REVIEW", "TOKENIZATION"),
	AuthorizedRoles:   []string{"COMPLIANCE", "CUSTODY"},
	OverrideRoles:     []string{"SUPER_ADMIN"},
	QuorumMode:        approval.QuorumCount,
	QuorumThreshold:   2,
	AutoApplyOnQuorum: true,
	NotifyAll:         true,
}

func people() directory {
	return directory{
		"op":     {ID: "op", Roles: []string{"OPERATOR"}},
		"s1":     {ID: "s1", Roles: []string{"SIGNER"}, Weight: 2},
		"s2":     {ID: "s2", Roles: []string{"SIGNER"}, Weight: 2},
		"s3":     {ID: "s3", Roles: []string{"SIGNER"}, Weight: 1},
		"comp1":  {ID: "comp1", Roles: []string{"COMPLIANCE"}},
		"comp2":  {ID: "comp2", Roles: []string{"COMPLIANCE"}},
		"cust":   {ID: "cust", Roles: []string{"CUSTODY"}},
		"root":   {ID: "root", Roles: []string{"SUPER_ADMIN"}},
		"viewer": {ID: "viewer", Roles: []string{"VIEWER"}},
	}
}

func TestWeightedQuorumBecomesReadyOnce(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	req := h.create(t, mintPolicy.ActionClass, "op")
	require.Equal(t, approval.StatusPending, req.Status)
	require.NotNil(t, req.ExpiresAt)

	first, err := h.manager.Approve(ctx, req.ID, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, first.Request.Status)
	assert.Equal(t, approval.Tally{Met: false, Current: 2, Required: 3}, first.Tally)
	assert.False(t, first.Dispatched)

	second, err := h.manager.Approve(ctx, req.ID, "s2", "checked digest")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusReady, second.Request.Status)
	assert.Equal(t, 4, second.Tally.Current)
	assert.True(t, second.Dispatched)
	assert.Equal(t, "s2", second.Request.TippedBy)
	assert.Equal(t, int32(1), h.applier.executable.Load())

	_, err = h.manager.Approve(ctx, req.ID, "s3", "")
	assert.ErrorIs(t, err, approval.ErrNotPending)
	assert.Equal(t, int32(1), h.applier.executable.Load())

	assert.Contains(t, h.audit.actions(), approval.ActionQuorumReady)
}

func TestCountQuorumAutoAppliesTransition(t *testing.T) {
	h := newHarness(t, people(), phasePolicy)
	ctx := context.Background()
	req := h.create(t, phasePolicy.ActionClass, "comp1")

	_, err := h.manager.Approve(ctx, req.ID, "comp1", "")
	require.NoError(t, err)
	res, err := h.manager.Approve(ctx, req.ID, "comp2", "")
	require.NoError(t, err)
	assert.False(t, res.Tally.Met, "a second member of the same role must not count twice")
	assert.Equal(t, approval.StatusPending, res.Request.Status)

	res, err = h.manager.Approve(ctx, req.ID, "cust", "")
	require.NoError(t, err)
	assert.True(t, res.Tally.Met)
	assert.Equal(t, approval.StatusCompleted, res.Request.Status)
	assert.Equal(t, int32(1), h.applier.transitions.Load())

	got, err := h.manager.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusCompleted, got.Status)
}

func TestOverrideRoleSatisfiesQuorum(t *testing.T) {
	policy := approval.Policy{
		ActionClass:       "project.phase:DRAFT->DUE_DILIGENCE",
		AuthorizedRoles:   []string{"CUSTODY"},
		OverrideRoles:     []string{"SUPER_ADMIN"},
		QuorumThreshold:   1,
		AutoApplyOnQuorum: true,
	}
	h := newHarness(t, people(), policy)
	req := h.create(t, policy.ActionClass, "root")

	res, err := h.manager.Approve(context.Background(), req.ID, "root", "")
	require.NoError(t, err)
	assert.True(t, res.Tally.Met)
	assert.Equal(t, "SUPER_ADMIN", res.Record.ApproverRole)
	assert.Equal(t, approval.StatusCompleted, res.Request.Status)
}

func TestDuplicateApprovalLeavesLedgerUnchanged(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	req := h.create(t, mintPolicy.ActionClass, "op")

	_, err := h.manager.Approve(ctx, req.ID, "s1", "")
	require.NoError(t, err)
	_, err = h.manager.Approve(ctx, req.ID, "s1", "again")
	require.ErrorIs(t, err, approval.ErrDuplicateApproval)

	records, err := h.manager.Records(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].ApproverID)
	assert.Equal(t, 1, records[0].Seq)
}

func TestUnauthorizedApproverDoesNotMutate(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	req := h.create(t, mintPolicy.ActionClass, "op")

	_, err := h.manager.Approve(ctx, req.ID, "viewer", "")
	assert.ErrorIs(t, err, approval.ErrUnauthorized)
	_, err = h.manager.Approve(ctx, req.ID, "ghost", "")
	assert.ErrorIs(t, err, approval.ErrUnauthorized)

	records, err := h.manager.Records(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
	got, err := h.manager.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
}

func TestCreateRequiresPolicyAndInitiatorRole(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()

	_, err := h.manager.Create(ctx, approval.CreateInput{ActionClass: "transaction:BURN", Initiator: "op"})
	assert.ErrorIs(t, err, approval.ErrPolicyNotFound)

	_, err = h.manager.Create(ctx, approval.CreateInput{ActionClass: mintPolicy.ActionClass, Initiator: "s1"})
	assert.ErrorIs(t, err, approval.ErrUnauthorized)

	_, err = h.manager.Create(ctx, approval.CreateInput{ActionClass: mintPolicy.ActionClass, Initiator: "root"})
	assert.NoError(t, err, "override roles may always initiate")

	_, err = h.manager.Create(ctx, approval.CreateInput{ActionClass: " ", Initiator: "op"})
	assert.ErrorIs(t, err, approval.ErrInvalidInput)
}

func TestRequestKeepsPolicySnapshot(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	req := h.create(t, mintPolicy.ActionClass, "op")

	stricter := mintPolicy
	stricter.QuorumThreshold = 10
	require.NoError(t, h.resolver.Register(stricter))

	_, err := h.manager.Approve(ctx, req.ID, "s1", "")
	require.NoError(t, err)
	res, err := h.manager.Approve(ctx, req.ID, "s3", "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Tally.Required)
	assert.True(t, res.Tally.Met)
	assert.Equal(t, 1, res.Request.Policy.Version)

	fresh := h.create(t, mintPolicy.ActionClass, "op")
	assert.Equal(t, 10, fresh.Policy.QuorumThreshold)
	assert.Equal(t, 2, fresh.Policy.Version)
}

func TestConcurrentApprovalsDispatchExactlyOnce(t *testing.T) {
	signers := directory{"op": {ID: "op", Roles: []string{"OPERATOR"}}}
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("signer-%02d", i)
		signers[id] = approval.Approver{ID: id, Roles: []string{"SIGNER"}, Weight: 1}
	}
	h := newHarness(t, signers, mintPolicy)
	req := h.create(t, mintPolicy.ActionClass, "op")

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		dispatched int
		terminal   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := h.manager.Approve(context.Background(), req.ID, id, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Dispatched:
				dispatched++
			case err == nil:
			case errors.Is(err, approval.ErrNotPending):
				terminal++
			default:
				t.Errorf("unexpected error for %s: %v", id, err)
			}
		}(fmt.Sprintf("signer-%02d", i))
	}
	wg.Wait()

	assert.Equal(t, 1, dispatched)
	assert.Equal(t, int32(1), h.applier.executable.Load())
	assert.Equal(t, 17, terminal)

	records, err := h.manager.Records(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRejectDominatesAccumulatedApprovals(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	req := h.create(t, mintPolicy.ActionClass, "op")

	_, err := h.manager.Approve(ctx, req.ID, "s1", "")
	require.NoError(t, err)
	_, err = h.manager.Reject(ctx, req.ID, "viewer", "no")
	require.ErrorIs(t, err, approval.ErrUnauthorized)

	rejected, err := h.manager.Reject(ctx, req.ID, "s3", "amount mismatch")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, rejected.Status)
	assert.Equal(t, "amount mismatch", rejected.Reason)
	assert.Equal(t, "s3", rejected.DecidedBy)
	assert.Equal(t, int32(1), h.applier.abandoned.Load())

	_, err = h.manager.Approve(ctx, req.ID, "s2", "")
	assert.ErrorIs(t, err, approval.ErrNotPending)
	_, err = h.manager.Reject(ctx, req.ID, "s3", "")
	assert.ErrorIs(t, err, approval.ErrNotPending)
	assert.Zero(t, h.applier.executable.Load())
}

func TestRejectNotSupportedForAutoApply(t *testing.T) {
	h := newHarness(t, people(), phasePolicy)
	req := h.create(t, phasePolicy.ActionClass, "comp1")

	_, err := h.manager.Reject(context.Background(), req.ID, "root", "")
	assert.ErrorIs(t, err, approval.ErrNotSupported)
}

func TestExpiryIsPersistedAndFinal(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	req := h.create(t, mintPolicy.ActionClass, "op")

	_, err := h.manager.Approve(ctx, req.ID, "s1", "")
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	_, err = h.manager.Approve(ctx, req.ID, "s2", "")
	require.NoError(t, err, "expiry is exclusive of the boundary instant")

	h.clock.Advance(time.Second)
	_, err = h.manager.Execute(ctx, req.ID, "s1")
	require.ErrorIs(t, err, approval.ErrExpired)

	stored, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, stored.Status)
	assert.Zero(t, h.applier.executed.Load())
	assert.Equal(t, approval.StatusExpired, h.applier.lastStatus.Load())

	_, err = h.manager.Approve(ctx, req.ID, "s3", "")
	assert.ErrorIs(t, err, approval.ErrNotPending)
	assert.Contains(t, h.audit.actions(), approval.ActionRequestExpired)
}

func TestGetAppliesLazyExpiry(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	req := h.create(t, mintPolicy.ActionClass, "op")

	h.clock.Advance(2 * time.Hour)
	got, err := h.manager.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, got.Status)

	list, total, err := h.manager.List(ctx, approval.Filter{Status: approval.StatusExpired})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, req.ID, list[0].ID)
}

func TestListDropsRowsThatExpireOnRead(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	stale := h.create(t, mintPolicy.ActionClass, "op")
	h.clock.Advance(30 * time.Minute)
	fresh := h.create(t, mintPolicy.ActionClass, "op")
	h.clock.Advance(45 * time.Minute)

	pending, total, err := h.manager.List(ctx, approval.Filter{Status: approval.StatusPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	got, err := h.store.GetRequest(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExpired, got.Status)

	open, err := h.manager.OpenFor(ctx, "transaction", "tx-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, fresh.ID, open[0].ID)
}

func TestExecuteRequiresReady(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	ctx := context.Background()
	req := h.create(t, mintPolicy.ActionClass, "op")

	_, err := h.manager.Execute(ctx, req.ID, "s1")
	require.ErrorIs(t, err, approval.ErrNotReady)

	_, err = h.manager.Approve(ctx, req.ID, "s1", "")
	require.NoError(t, err)
	_, err = h.manager.Approve(ctx, req.ID, "s2", "")
	require.NoError(t, err)

	_, err = h.manager.Execute(ctx, req.ID, "viewer")
	require.ErrorIs(t, err, approval.ErrUnauthorized)

	done, err := h.manager.Execute(ctx, req.ID, "s3")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusExecuted, done.Status)
	assert.Equal(t, int32(1), h.applier.executed.Load())

	_, err = h.manager.Execute(ctx, req.ID, "s3")
	assert.ErrorIs(t, err, approval.ErrNotReady)
}

func TestApplierFailureRollsBackApproval(t *testing.T) {
	h := newHarness(t, people(), phasePolicy)
	ctx := context.Background()
	req := h.create(t, phasePolicy.ActionClass, "comp1")

	_, err := h.manager.Approve(ctx, req.ID, "comp1", "")
	require.NoError(t, err)

	h.applier.failWith = errors.New("phase already moved")
	_, err = h.manager.Approve(ctx, req.ID, "cust", "")
	require.Error(t, err)

	records, err := h.manager.Records(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	got, err := h.manager.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, got.Status)
}

func TestUnknownRequest(t *testing.T) {
	h := newHarness(t, people(), mintPolicy)
	_, err := h.manager.Approve(context.Background(), "missing", "s1", "")
	assert.ErrorIs(t, err, approval.ErrNotFound)
	_, err = h.manager.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, approval.ErrNotFound)
}

func TestAssigneesRestrictOpenPolicies(t *testing.T) {
	open := approval.Policy{ActionClass: "transaction:TRANSFER", QuorumThreshold: 1}
	h := newHarness(t, people(), open)
	req, err := h.manager.Create(context.Background(), approval.CreateInput{
		ActionClass: open.ActionClass,
		Initiator:   "op",
		Assignees:   []string{"comp1", "comp1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"comp1"}, req.Assignees)

	_, err = h.manager.Approve(context.Background(), req.ID, "cust", "")
	assert.ErrorIs(t, err, approval.ErrUnauthorized)
	res, err := h.manager.Approve(context.Background(), req.ID, "comp1", "")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusReady, res.Request.Status)
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, approval.IsRecoverable(fmt.Errorf("wrap: %w", approval.ErrDuplicateApproval)))
	assert.False(t, approval.IsRecoverable(errors.New("disk full")))
}
