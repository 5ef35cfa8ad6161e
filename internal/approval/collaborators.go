package approval

import (
	"context"
	"time"
)

// Audit actions emitted by the engine.
const (
	ActionRequestCreated   = "APPROVAL_REQUEST_CREATED"
	ActionApprovalRecorded = "APPROVAL_RECORDED"
	ActionQuorumCompleted  = "APPROVAL_QUORUM_COMPLETED"
	ActionQuorumReady      = "APPROVAL_QUORUM_READY"
	ActionRequestExecuted  = "APPROVAL_REQUEST_EXECUTED"
	ActionRequestRejected  = "APPROVAL_REQUEST_REJECTED"
	ActionRequestExpired   = "APPROVAL_REQUEST_EXPIRED"
)

// EntityApprovalRequest is the audit entity type for requests.
const EntityApprovalRequest = "approval_request"

// IdentityProvider resolves a user to an Approver. Unknown users must be
// reported with an error wrapping ErrUnauthorized.
type IdentityProvider interface {
	Lookup(ctx context.Context, userID string) (Approver, error)
}

// AuditEntry is one audit-log line.
type AuditEntry struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
	Before     string
	After      string
	Details    map[string]any
	At         time.Time
}

// AuditSink persists audit entries.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Recipients selects who receives a notification.
type Recipients struct {
	Roles []string `json:"roles,omitempty"`
	All   bool     `json:"all,omitempty"`
}

// Event is the notification payload for a request transition.
type Event struct {
	Type        string    `json:"type"`
	RequestID   string    `json:"request_id"`
	ActionClass string    `json:"action_class"`
	Status      Status    `json:"status"`
	Target      TargetRef `json:"target"`
	Actor       string    `json:"actor,omitempty"`
	Approvers   []string  `json:"approvers,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier delivers events to recipients.
type Notifier interface {
	Notify(ctx context.Context, to Recipients, event Event) error
}

// TransitionApplier applies a state transition to the target entity.
type TransitionApplier interface {
	ApplyTransition(ctx context.Context, target TargetRef, from, to string) error
}

// ExecutionApplier flips a transaction target through its execution states.
type ExecutionApplier interface {
	MarkExecutable(ctx context.Context, target TargetRef) error
	MarkExecuted(ctx context.Context, target TargetRef) error
}

// Abandoner is optionally implemented by appliers that mirror REJECTED and
// EXPIRED onto the target entity.
type Abandoner interface {
	Abandon(ctx context.Context, target TargetRef, status Status) error
}
