package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TxTypeMint         = "MINT"
	TxTypeBurn         = "BURN"
	TxTypeTransfer     = "TRANSFER"
	TxTypeDistribution = "DISTRIBUTION"
)

// Transaction statuses, mirrored from the approval request
const (
	TxStatusPendingApproval = "PENDING_APPROVAL"
	TxStatusExecutable      = "EXECUTABLE"
	TxStatusExecuted        = "EXECUTED"
	TxStatusRejected        = "REJECTED"
	TxStatusExpired         = "EXPIRED"
)

// IsTxType reports whether t is a known transaction type.
func IsTxType(t string) bool {
	switch t {
	case TxTypeMint, TxTypeBurn, TxTypeTransfer, TxTypeDistribution:
		return true
	}
	return false
}

// Transaction is a platform operation that needs multi-signature approval
type Transaction struct {
	ID                uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Reference         string          `gorm:"type:varchar(40);uniqueIndex;not null" json:"reference"`
	ProjectID         *uuid.UUID      `gorm:"type:uuid;index" json:"project_id"`
	Project           *Project        `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Type              string          `gorm:"type:varchar(20);not null;index" json:"type"`
	AssetSymbol       string          `gorm:"type:varchar(20);not null" json:"asset_symbol"`
	Amount            decimal.Decimal `gorm:"type:decimal(38,18);not null" json:"amount"`
	Destination       string          `gorm:"type:varchar(128)" json:"destination"`
	Memo              string          `gorm:"type:text" json:"memo"`
	Digest            string          `gorm:"type:varchar(64);not null" json:"digest"` // sha256 of the canonical payload
	Status            string          `gorm:"type:varchar(20);not null;default:'PENDING_APPROVAL';index" json:"status"`
	ApprovalRequestID *uuid.UUID      `gorm:"type:uuid;index" json:"approval_request_id"`
	CreatedBy         *uuid.UUID      `gorm:"type:uuid" json:"created_by"`
	ExecutedAt        *time.Time      `json:"executed_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
