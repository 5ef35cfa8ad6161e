package model

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalPolicy is the persisted approval rule for one action class
type ApprovalPolicy struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ActionClass       string     `gorm:"type:varchar(120);uniqueIndex;not null" json:"action_class"` // project.phase:FROM->TO, transaction:MINT
	AuthorizedRoles   StringList `gorm:"type:text[];not null" json:"authorized_roles"`
	OverrideRoles     StringList `gorm:"type:text[];not null" json:"override_roles"`
	InitiatorRoles    StringList `gorm:"type:text[];not null" json:"initiator_roles"`
	RejectRoles       StringList `gorm:"type:text[];not null" json:"reject_roles"`
	ExecuteRoles      StringList `gorm:"type:text[];not null" json:"execute_roles"`
	NotifyRoles       StringList `gorm:"type:text[];not null" json:"notify_roles"`
	NotifyAll         bool       `gorm:"not null;default:false" json:"notify_all"`
	QuorumMode        string     `gorm:"type:varchar(10);not null;default:'COUNT'" json:"quorum_mode"` // COUNT, WEIGHT
	QuorumThreshold   int        `gorm:"type:int;not null" json:"quorum_threshold"`
	ExpirySeconds     int64      `gorm:"not null;default:0" json:"expiry_seconds"` // 0 = never
	AutoApplyOnQuorum bool       `gorm:"not null;default:false" json:"auto_apply_on_quorum"`
	Version           int        `gorm:"type:int;not null;default:1" json:"version"`
	UpdatedBy         *uuid.UUID `gorm:"type:uuid" json:"updated_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ApprovalRequest is a pending action waiting for its quorum.
// The policy is copied into PolicySnapshot at creation and never re-read.
type ApprovalRequest struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	ActionClass    string           `gorm:"type:varchar(120);not null;index" json:"action_class"`
	TargetKind     string           `gorm:"type:varchar(30);not null;index:idx_approval_target" json:"target_kind"` // project, transaction
	TargetID       string           `gorm:"type:varchar(64);not null;index:idx_approval_target" json:"target_id"`
	FromState      string           `gorm:"type:varchar(40)" json:"from_state"`
	ToState        string           `gorm:"type:varchar(40)" json:"to_state"`
	Digest         string           `gorm:"type:varchar(64)" json:"digest"`
	PolicySnapshot string           `gorm:"type:jsonb;not null" json:"policy_snapshot"`
	Status         string           `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Assignees      StringList       `gorm:"type:text[];not null" json:"assignees"`
	RequestedBy    string           `gorm:"type:varchar(64);not null;index" json:"requested_by"`
	ExpiresAt      *time.Time       `gorm:"index" json:"expires_at"`
	Version        int              `gorm:"type:int;not null;default:1" json:"version"` // compare-and-swap guard
	TippedBy       string           `gorm:"type:varchar(64)" json:"tipped_by"`
	DecidedBy      string           `gorm:"type:varchar(64)" json:"decided_by"`
	DecidedAt      *time.Time       `json:"decided_at"`
	Reason         string           `gorm:"type:text" json:"reason"`
	Records        []ApprovalRecord `gorm:"foreignKey:RequestID" json:"records,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ApprovalRecord is one immutable attestation on a request
type ApprovalRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_approval_record_approver,priority:1" json:"request_id"`
	ApproverID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_approval_record_approver,priority:2" json:"approver_id"`
	ApproverRole string    `gorm:"type:varchar(50);not null" json:"approver_role"`
	Weight       int       `gorm:"type:int;not null;default:1" json:"weight"`
	Seq          int       `gorm:"type:int;not null" json:"seq"`
	Notes        string    `gorm:"type:text" json:"notes"`
	CreatedAt    time.Time `json:"created_at"`
}
