// Package approval implements the threshold approval engine shared by project
// phase advancement and multi-signature transaction execution.
//
// A Request is opened against a policy snapshot, accumulates immutable
// Records from authorized approvers, and is completed exactly once when the
// quorum evaluator reports the threshold as met.
package approval

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReady     Status = "READY"
	StatusCompleted Status = "COMPLETED"
	StatusExecuted  Status = "EXECUTED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
)

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExecuted, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// IsOpen reports whether a request in this status still awaits a decision and
// is therefore subject to its expiry.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusReady
}

// QuorumMode selects how the evaluator measures progress.
type QuorumMode string

const (
	QuorumCount  QuorumMode = "COUNT"
	QuorumWeight QuorumMode = "WEIGHT"
)

// TargetRef is an opaque reference to the entity an approved request acts on.
type TargetRef struct {
	Kind      string `json:"kind" yaml:"kind"`
	EntityID  string `json:"entity_id" yaml:"entity_id"`
	FromState string `json:"from_state,omitempty" yaml:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty" yaml:"to_state,omitempty"`
	Digest    string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// Approver is a party eligible to approve.
type Approver struct {
	ID     string
	Roles  []string
	Weight int
}

// HasAnyRole reports whether the approver holds at least one of roles.
func (a Approver) HasAnyRole(roles []string) bool {
	for _, r := range a.Roles {
		if containsRole(roles, r) {
			return true
		}
	}
	return false
}

// Record is a single immutable attestation.
type Record struct {
	RequestID    string    `json:"request_id"`
	ApproverID   string    `json:"approver_id"`
	ApproverRole string    `json:"approver_role"`
	Weight       int       `json:"weight"`
	Seq          int       `json:"seq"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Request is the unit of work under approval.
type Request struct {
	ID          string
	ActionClass string
	Target      TargetRef
	Policy      Policy
	Status      Status
	Assignees   []string
	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Version     int
	TippedBy    string
	DecidedBy   string
	DecidedAt   *time.Time
	Reason      string
	UpdatedAt   time.Time
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Policy = r.Policy.Clone()
	out.Assignees = slices.Clone(r.Assignees)
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		out.DecidedAt = &t
	}
	return &out
}

// IsExpired reports whether the request's expiry has passed at now.
func (r *Request) IsExpired(now time.Time) bool {
	if r.ExpiresAt == nil || r.ExpiresAt.IsZero() {
		return false
	}
	return now.UTC().After(r.ExpiresAt.UTC())
}

// Tally is the result of a quorum evaluation.
type Tally struct {
	Met      bool `json:"met"`
	Current  int  `json:"current"`
	Required int  `json:"required"`
}

// CreateInput opens a new request.
type CreateInput struct {
	ActionClass string
	Target      TargetRef
	Initiator   string
	Assignees   []string
}

// Filter narrows request listings.
type Filter struct {
	Status      Status
	ActionClass string
	TargetKind  string
	TargetID    string
	Page        int
	Limit       int
}

// ApproveResult describes the outcome of a successful approval.
type ApproveResult struct {
	Request    *Request
	Record     Record
	Tally      Tally
	Dispatched bool
}
