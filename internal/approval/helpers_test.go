package approval_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rwaadmin/internal/approval"
	"rwaadmin/internal/approval/memory"

	"github.com/stretchr/testify/require"
)

type directory map[string]approval.Approver

func (d directory) Lookup(_ context.Context, userID string) (approval.Approver, error) {
	a, ok := d[userID]
	if !ok {
		return approval.Approver{}, fmt.Errorf("%w: unknown user %s", approval.ErrUnauthorized, userID)
	}
	return a, nil
}

type countingApplier struct {
	transitions atomic.Int32
	executable  atomic.Int32
	executed    atomic.Int32
	abandoned   atomic.Int32
	failWith    error
	lastStatus  atomic.Value
}

func (c *countingApplier) ApplyTransition(_ context.Context, _ approval.TargetRef, _, _ string) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.transitions.Add(1)
	return nil
}

func (c *countingApplier) MarkExecutable(_ context.Context, _ approval.TargetRef) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.executable.Add(1)
	return nil
}

func (c *countingApplier) MarkExecuted(_ context.Context, _ approval.TargetRef) error {
	c.executed.Add(1)
	return nil
}

func (c *countingApplier) Abandon(_ context.Context, _ approval.TargetRef, status approval.Status) error {
	c.abandoned.Add(1)
	c.lastStatus.Store(status)
	return nil
}

type auditLog struct {
	mu      sync.Mutex
	entries []approval.AuditEntry
	fail    bool
}

func (a *auditLog) Record(_ context.Context, e approval.AuditEntry) error {
	if a.fail {
		return errors.New("audit store down")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditLog) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type notified struct {
	to    approval.Recipients
	event approval.Event
}

type notifier struct {
	mu     sync.Mutex
	events []notified
	fail   bool
}

func (n *notifier) Notify(_ context.Context, to approval.Recipients, e approval.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notified{to: to, event: e})
	if n.fail {
		return errors.New("broker unreachable")
	}
	return nil
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	manager  *approval.Manager
	store    *memory.Store
	resolver *approval.StaticResolver
	applier  *countingApplier
	audit    *auditLog
	notifier *notifier
	clock    *clock
}

func newHarness(t *testing.T, people directory, policies ...approval.Policy) *harness {
	t.Helper()
	resolver, err := approval.NewStaticResolver(policies...)
	require.NoError(t, err)

	h := &harness{
		store:    memory.New(),
		resolver: resolver,
		applier:  &countingApplier{},
		audit:    &auditLog{},
		notifier: &notifier{},
		clock:    &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	dispatcher := approval.NewDispatcher(approval.DispatcherConfig{
		Transitions: h.applier,
		Executions:  h.applier,
		Audit:       h.audit,
		Notifier:    h.notifier,
	})
	h.manager = approval.NewManager(resolver, h.store, people, dispatcher, approval.WithClock(h.clock.Now))
	return h
}

func (h *harness) create(t *testing.T, class, initiator string) *approval.Request {
	t.Helper()
	req, err := h.manager.Create(context.Background(), approval.CreateInput{
		ActionClass: class,
		Target:      approval.TargetRef{Kind: "transaction", EntityID: "tx-1"},
		Initiator:   initiator,
	})
	require.NoError(t, err)
	return req
}
