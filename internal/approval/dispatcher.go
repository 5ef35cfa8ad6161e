package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DispatcherConfig wires the dispatcher's collaborators. Any of them may be nil;
// a nil applier makes the corresponding policy mode unusable.
type DispatcherConfig struct {
	Transitions TransitionApplier
	Executions  ExecutionApplier
	Audit       AuditSink
	Notifier    Notifier
	Logger      *slog.Logger
}

// Dispatcher applies the business effect of a completed request and signals
// the audit and notification collaborators.
type Dispatcher struct {
	transitions TransitionApplier
	executions  ExecutionApplier
	audit       AuditSink
	notifier    Notifier
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		transitions: cfg.Transitions,
		executions:  cfg.Executions,
		audit:       cfg.Audit,
		notifier:    cfg.Notifier,
		logger:      logger,
	}
}

// Apply performs the quorum side effect and returns the status the request
// moves to. It runs inside the store's atomic section; an error aborts the
// whole approval.
func (d *Dispatcher) Apply(ctx context.Context, req *Request, _ []Record) (Status, error) {
	if req.Policy.AutoApplyOnQuorum {
		if d.transitions == nil {
			return "", fmt.Errorf("%w: no transition applier configured for %s", ErrNotSupported, req.ActionClass)
		}
		if err := d.transitions.ApplyTransition(ctx, req.Target, req.Target.FromState, req.Target.ToState); err != nil {
			return "", fmt.Errorf("apply transition %s->%s: %w", req.Target.FromState, req.Target.ToState, err)
		}
		return StatusCompleted, nil
	}
	if d.executions == nil {
		return "", fmt.Errorf("%w: no execution applier configured for %s", ErrNotSupported, req.ActionClass)
	}
	if err := d.executions.MarkExecutable(ctx, req.Target); err != nil {
		return "", fmt.Errorf("mark executable: %w", err)
	}
	return StatusReady, nil
}

// Execute invokes the configured action for a READY request.
func (d *Dispatcher) Execute(ctx context.Context, req *Request) error {
	if d.executions == nil {
		return fmt.Errorf("%w: no execution applier configured for %s", ErrNotSupported, req.ActionClass)
	}
	if err := d.executions.MarkExecuted(ctx, req.Target); err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}
	return nil
}

// Transition describes a committed change to a request, handed to Announce.
type Transition struct {
	Request *Request
	From    Status
	To      Status
	Actor   string
	Records []Record
	Action  string
}

// Announce emits the audit entry and, for completions and terminal
// transitions, the notification fan-out. It runs after the state change has
// committed, so every failure here is logged and dropped.
func (d *Dispatcher) Announce(ctx context.Context, t Transition) {
	if t.Request == nil {
		return
	}
	req := t.Request
	approvers := make([]string, 0, len(t.Records))
	for _, rec := range t.Records {
		approvers = append(approvers, rec.ApproverID)
	}

	if t.To == StatusRejected || t.To == StatusExpired {
		d.abandon(ctx, req, t.To)
	}

	if d.audit != nil {
		entry := AuditEntry{
			EntityType: EntityApprovalRequest,
			EntityID:   req.ID,
			ActorID:    t.Actor,
			Action:     t.Action,
			Before:     string(t.From),
			After:      string(t.To),
			Details: map[string]any{
				"action_class":   req.ActionClass,
				"target":         req.Target,
				"approvers":      approvers,
				"policy_version": req.Policy.Version,
			},
			At: req.UpdatedAt,
		}
		if req.Reason != "" {
			entry.Details["reason"] = req.Reason
		}
		if err := d.audit.Record(ctx, entry); err != nil {
			d.logger.Warn("approval audit write failed",
				"request_id", req.ID, "action", t.Action, "error", err)
		}
	}

	if d.notifier == nil || !notifies(t.To) || t.From == t.To {
		return
	}
	event := Event{
		Type:        eventType(t.To),
		RequestID:   req.ID,
		ActionClass: req.ActionClass,
		Status:      t.To,
		Target:      req.Target,
		Actor:       t.Actor,
		Approvers:   approvers,
		At:          time.Now().UTC(),
	}
	to := Recipients{Roles: req.Policy.NotifyRoles, All: req.Policy.NotifyAll}
	if err := d.notifier.Notify(ctx, to, event); err != nil {
		d.logger.Warn("approval notification failed",
			"request_id", req.ID, "event", event.Type, "error", err)
	}
}

func (d *Dispatcher) abandon(ctx context.Context, req *Request, status Status) {
	var applier any = d.executions
	if req.Policy.AutoApplyOnQuorum {
		applier = d.transitions
	}
	a, ok := applier.(Abandoner)
	if !ok {
		return
	}
	if err := a.Abandon(ctx, req.Target, status); err != nil {
		d.logger.Warn("approval target abandon failed",
			"request_id", req.ID, "target", req.Target.EntityID, "status", status, "error", err)
	}
}

// notifies reports whether reaching s is a completion. Rejection, expiry and
// execution are audited but not fanned out.
func notifies(s Status) bool {
	return s == StatusCompleted || s == StatusReady
}

func eventType(s Status) string {
	if s == StatusReady {
		return "approval.ready"
	}
	return "approval.completed"
}
