package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions written outside the approval engine
const (
	ActionCreateProject     = "CREATE_PROJECT"
	ActionCreateTransaction = "CREATE_TRANSACTION"
	ActionUpsertPolicy      = "UPSERT_APPROVAL_POLICY"
	ActionDeletePolicy      = "DELETE_APPROVAL_POLICY"
	ActionCreateUser        = "CREATE_USER"
	ActionAssignRoles       = "ASSIGN_ROLES"
)

// Audit entity types
const (
	EntityProject     = "project"
	EntityTransaction = "transaction"
	EntityPolicy      = "approval_policy"
	EntityUser        = "user"
)

// AuditLog tracks who changed what, and the state before and after
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for system actions such as expiry
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType string     `gorm:"type:varchar(40);not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   string     `gorm:"type:varchar(64);index:idx_audit_entity" json:"entity_id"`
	Before     string     `gorm:"type:varchar(40)" json:"before,omitempty"`
	After      string     `gorm:"type:varchar(40)" json:"after,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
