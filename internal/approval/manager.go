package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock for deterministic expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager owns the request state machine.
type Manager struct {
	resolver   PolicyResolver
	store      Store
	identity   IdentityProvider
	dispatcher *Dispatcher
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// NewManager creates a Manager.
func NewManager(resolver PolicyResolver, store Store, identity IdentityProvider, dispatcher *Dispatcher, opts ...Option) *Manager {
	if dispatcher == nil {
		dispatcher = NewDispatcher(DispatcherConfig{})
	}
	m := &Manager{
		resolver:   resolver,
		store:      store,
		identity:   identity,
		dispatcher: dispatcher,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a PENDING request for the action class, snapshotting its policy.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Request, error) {
	in.ActionClass = strings.TrimSpace(in.ActionClass)
	in.Initiator = strings.TrimSpace(in.Initiator)
	if in.ActionClass == "" {
		return nil, fmt.Errorf("%w: action class is required", ErrInvalidInput)
	}
	if in.Initiator == "" {
		return nil, fmt.Errorf("%w: initiator is required", ErrUnauthorized)
	}

	policy, err := m.resolver.Resolve(ctx, in.ActionClass)
	if err != nil {
		return nil, err
	}
	policy = policy.Normalize()

	initiator, err := m.identity.Lookup(ctx, in.Initiator)
	if err != nil {
		return nil, err
	}
	if !mayInitiate(policy, initiator) {
		return nil, fmt.Errorf("%w: %s may not open %s", ErrUnauthorized, in.Initiator, in.ActionClass)
	}

	now := m.now().UTC()
	req := &Request{
		ID:          m.newID(),
		ActionClass: in.ActionClass,
		Target:      in.Target,
		Policy:      policy,
		Status:      StatusPending,
		Assignees:   dedupeIDs(in.Assignees),
		CreatedBy:   in.Initiator,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if exp := policy.Expiry(); exp > 0 {
		at := now.Add(exp)
		req.ExpiresAt = &at
	}
	if err := m.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	m.logger.Info("approval request created",
		"request_id", req.ID, "action_class", req.ActionClass, "initiator", in.Initiator)
	m.dispatcher.Announce(ctx, Transition{
		Request: req.Clone(),
		To:      StatusPending,
		Actor:   in.Initiator,
		Action:  ActionRequestCreated,
	})
	return req.Clone(), nil
}

// Approve records one approval and, if it crosses the quorum, completes the
// request exactly once. Concurrent approvals are serialized by the store; only
// the call that observes the crossing dispatches.
func (m *Manager) Approve(ctx context.Context, requestID, approverID, notes string) (*ApproveResult, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrUnauthorized)
	}

	var (
		result  ApproveResult
		records []Record
		expired *Transition
		from    Status
	)
	err := m.store.Atomically(ctx, requestID, func(ctx context.Context, tx Tx) error {
		req, err := tx.Request(ctx)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		if t, err := m.expireLocked(ctx, tx, req, now); err != nil || t != nil {
			expired = t
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: request %s is %s", ErrNotPending, req.ID, req.Status)
		}

		approver, err := m.identity.Lookup(ctx, approverID)
		if err != nil {
			return err
		}
		records, err = tx.ListFor(ctx)
		if err != nil {
			return err
		}
		role, ok := qualifyingRole(req.Policy, req, approver, records)
		if !ok {
			return fmt.Errorf("%w: %s may not approve %s", ErrUnauthorized, approverID, req.ActionClass)
		}
		for _, rec := range records {
			if rec.ApproverID == approverID {
				return fmt.Errorf("%w: %s on %s", ErrDuplicateApproval, approverID, req.ID)
			}
		}

		weight := 1
		if req.Policy.QuorumMode == QuorumWeight && approver.Weight > 1 {
			weight = approver.Weight
		}
		rec, err := tx.Append(ctx, Record{
			RequestID:    req.ID,
			ApproverID:   approverID,
			ApproverRole: role,
			Weight:       weight,
			Notes:        strings.TrimSpace(notes),
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		records = append(records, rec)

		tally := Evaluate(req.Policy, records)
		from = req.Status
		if tally.Met {
			to, err := m.dispatcher.Apply(ctx, req, records)
			if err != nil {
				return err
			}
			req.Status = to
			req.TippedBy = approverID
			req.DecidedAt = &now
			result.Dispatched = true
		}
		req.UpdatedAt = now
		if err := tx.Update(ctx, req); err != nil {
			return err
		}
		result.Request = req.Clone()
		result.Record = rec
		result.Tally = tally
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		m.dispatcher.Announce(ctx, *expired)
		return nil, fmt.Errorf("%w: request %s", ErrExpired, requestID)
	}

	m.logger.Info("approval recorded",
		"request_id", requestID, "approver", approverID, "role", result.Record.ApproverRole,
		"current", result.Tally.Current, "required", result.Tally.Required)
	m.dispatcher.Announce(ctx, Transition{
		Request: result.Request,
		From:    from,
		To:      from,
		Actor:   approverID,
		Records: records,
		Action:  ActionApprovalRecorded,
	})
	if result.Dispatched {
		action := ActionQuorumReady
		if result.Request.Status == StatusCompleted {
			action = ActionQuorumCompleted
		}
		m.logger.Info("approval quorum reached",
			"request_id", requestID, "status", result.Request.Status, "tipped_by", approverID)
		m.dispatcher.Announce(ctx, Transition{
			Request: result.Request,
			From:    from,
			To:      result.Request.Status,
			Actor:   approverID,
			Records: records,
			Action:  action,
		})
	}
	return &result, nil
}

// Execute runs the configured action for a READY request.
func (m *Manager) Execute(ctx context.Context, requestID, actorID string) (*Request, error) {
	actorID = strings.TrimSpace(actorID)
	var (
		out     *Request
		records []Record
		expired *Transition
	)
	err := m.store.Atomically(ctx, requestID, func(ctx context.Context, tx Tx) error {
		req, err := tx.Request(ctx)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		if t, err := m.expireLocked(ctx, tx, req, now); err != nil || t != nil {
			expired = t
			return err
		}
		if req.Status != StatusReady {
			return fmt.Errorf("%w: request %s is %s", ErrNotReady, req.ID, req.Status)
		}
		if err := m.authorize(ctx, actorID, req.Policy.executeRoles(), req.Policy.OverrideRoles); err != nil {
			return err
		}
		if err := m.dispatcher.Execute(ctx, req); err != nil {
			return err
		}
		req.Status = StatusExecuted
		req.DecidedBy = actorID
		req.DecidedAt = &now
		req.UpdatedAt = now
		if err := tx.Update(ctx, req); err != nil {
			return err
		}
		records, err = tx.ListFor(ctx)
		if err != nil {
			return err
		}
		out = req.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		m.dispatcher.Announce(ctx, *expired)
		return nil, fmt.Errorf("%w: request %s", ErrExpired, requestID)
	}

	m.logger.Info("approval request executed", "request_id", requestID, "actor", actorID)
	m.dispatcher.Announce(ctx, Transition{
		Request: out,
		From:    StatusReady,
		To:      StatusExecuted,
		Actor:   actorID,
		Records: records,
		Action:  ActionRequestExecuted,
	})
	return out, nil
}

// Reject moves a PENDING request to REJECTED regardless of accumulated
// approvals. Only requests whose policy has a separate execution step can be
// rejected.
func (m *Manager) Reject(ctx context.Context, requestID, actorID, reason string) (*Request, error) {
	actorID = strings.TrimSpace(actorID)
	var (
		out     *Request
		records []Record
		expired *Transition
	)
	err := m.store.Atomically(ctx, requestID, func(ctx context.Context, tx Tx) error {
		req, err := tx.Request(ctx)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		if t, err := m.expireLocked(ctx, tx, req, now); err != nil || t != nil {
			expired = t
			return err
		}
		if req.Policy.AutoApplyOnQuorum {
			return fmt.Errorf("%w: %s cannot be rejected", ErrNotSupported, req.ActionClass)
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: request %s is %s", ErrNotPending, req.ID, req.Status)
		}
		if err := m.authorize(ctx, actorID, req.Policy.rejectRoles(), req.Policy.OverrideRoles); err != nil {
			return err
		}
		req.Status = StatusRejected
		req.DecidedBy = actorID
		req.DecidedAt = &now
		req.Reason = strings.TrimSpace(reason)
		req.UpdatedAt = now
		if err := tx.Update(ctx, req); err != nil {
			return err
		}
		records, err = tx.ListFor(ctx)
		if err != nil {
			return err
		}
		out = req.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		m.dispatcher.Announce(ctx, *expired)
		return nil, fmt.Errorf("%w: request %s", ErrExpired, requestID)
	}

	m.logger.Info("approval request rejected", "request_id", requestID, "actor", actorID)
	m.dispatcher.Announce(ctx, Transition{
		Request: out,
		From:    StatusPending,
		To:      StatusRejected,
		Actor:   actorID,
		Records: records,
		Action:  ActionRequestRejected,
	})
	return out, nil
}

// Get returns the request, persisting EXPIRED first if its expiry has passed.
func (m *Manager) Get(ctx context.Context, requestID string) (*Request, error) {
	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return m.refresh(ctx, req)
}

// Records returns the request's approvals in append order.
func (m *Manager) Records(ctx context.Context, requestID string) ([]Record, error) {
	if _, err := m.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return m.store.ListRecords(ctx, requestID)
}

// Tally evaluates the request's current quorum standing.
func (m *Manager) Tally(ctx context.Context, requestID string) (Tally, error) {
	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return Tally{}, err
	}
	records, err := m.store.ListRecords(ctx, requestID)
	if err != nil {
		return Tally{}, err
	}
	return Evaluate(req.Policy, records), nil
}

// List returns requests matching the filter, applying lazy expiry to each.
// Rows that expire on this read drop out of a status-filtered result.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*Request, int64, error) {
	reqs, total, err := m.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := reqs[:0]
	for _, req := range reqs {
		refreshed, err := m.refresh(ctx, req)
		if err != nil {
			return nil, 0, err
		}
		if filter.Status != "" && refreshed.Status != filter.Status {
			total--
			continue
		}
		out = append(out, refreshed)
	}
	return out, total, nil
}

// OpenFor returns the PENDING or READY requests targeting the entity, after
// persisting EXPIRED on any whose expiry has passed.
func (m *Manager) OpenFor(ctx context.Context, kind, entityID string) ([]*Request, error) {
	var open []*Request
	for _, status := range []Status{StatusPending, StatusReady} {
		reqs, _, err := m.List(ctx, Filter{Status: status, TargetKind: kind, TargetID: entityID})
		if err != nil {
			return nil, err
		}
		open = append(open, reqs...)
	}
	return open, nil
}

func (m *Manager) refresh(ctx context.Context, req *Request) (*Request, error) {
	if !req.Status.IsOpen() || !req.IsExpired(m.now().UTC()) {
		return req, nil
	}
	var (
		out     *Request
		expired *Transition
	)
	err := m.store.Atomically(ctx, req.ID, func(ctx context.Context, tx Tx) error {
		current, err := tx.Request(ctx)
		if err != nil {
			return err
		}
		expired, err = m.expireLocked(ctx, tx, current, m.now().UTC())
		if err != nil {
			return err
		}
		out = current.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		m.dispatcher.Announce(ctx, *expired)
	}
	return out, nil
}

// expireLocked persists EXPIRED if the request is past its expiry. It returns
// the transition to announce after commit, or nil when nothing changed.
func (m *Manager) expireLocked(ctx context.Context, tx Tx, req *Request, now time.Time) (*Transition, error) {
	if !req.Status.IsOpen() || !req.IsExpired(now) {
		return nil, nil
	}
	from := req.Status
	req.Status = StatusExpired
	req.DecidedAt = &now
	req.UpdatedAt = now
	if err := tx.Update(ctx, req); err != nil {
		return nil, err
	}
	records, err := tx.ListFor(ctx)
	if err != nil {
		return nil, err
	}
	m.logger.Info("approval request expired", "request_id", req.ID, "previous_status", from)
	return &Transition{
		Request: req.Clone(),
		From:    from,
		To:      StatusExpired,
		Records: records,
		Action:  ActionRequestExpired,
	}, nil
}

func (m *Manager) authorize(ctx context.Context, actorID string, roles, overrides []string) error {
	if actorID == "" {
		return fmt.Errorf("%w: actor is required", ErrUnauthorized)
	}
	actor, err := m.identity.Lookup(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.HasAnyRole(roles) || actor.HasAnyRole(overrides) {
		return nil
	}
	return fmt.Errorf("%w: %s lacks a permitted role", ErrUnauthorized, actorID)
}

func mayInitiate(policy Policy, initiator Approver) bool {
	if initiator.HasAnyRole(policy.OverrideRoles) {
		return true
	}
	if len(policy.InitiatorRoles) == 0 {
		return len(initiator.Roles) > 0
	}
	return initiator.HasAnyRole(policy.InitiatorRoles)
}

func dedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// IsRecoverable reports whether err is one of the engine's caller-recoverable errors.
func IsRecoverable(err error) bool {
	for _, target := range []error{
		ErrUnauthorized, ErrDuplicateApproval, ErrNotPending, ErrNotReady,
		ErrExpired, ErrNotFound, ErrNotSupported, ErrConflict, ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
