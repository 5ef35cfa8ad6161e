package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Project lifecycle phases, in order
const (
	PhaseDraft        = "DRAFT"
	PhaseDueDiligence = "DUE_DILIGENCE"
	PhaseLegalReview  = "LEGAL_REVIEW"
	PhaseTokenization = "TOKENIZATION"
	PhaseIssuance     = "ISSUANCE"
	PhaseLive         = "LIVE"
	PhaseArchived     = "ARCHIVED"
)

var phaseOrder = []string{PhaseDraft, PhaseDueDiligence, PhaseLegalReview, PhaseTokenization, PhaseIssuance, PhaseLive}

// NextPhase returns the phase after from, or "" when from is the last one.
func NextPhase(from string) string {
	i := slices.Index(phaseOrder, from)
	if i < 0 || i == len(phaseOrder)-1 {
		return ""
	}
	return phaseOrder[i+1]
}

// CanAdvance reports whether from -> to is a legal phase move.
// Any non-archived phase may be archived; otherwise phases advance one step.
func CanAdvance(from, to string) bool {
	if from == PhaseArchived {
		return false
	}
	if to == PhaseArchived {
		return true
	}
	return to != "" && NextPhase(from) == to
}

// Project is a real-world asset being tokenized
type Project struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code         string          `gorm:"type:varchar(40);uniqueIndex;not null" json:"code"`
	Name         string          `gorm:"type:varchar(255);not null" json:"name"`
	AssetClass   string          `gorm:"type:varchar(50);not null" json:"asset_class"` // REAL_ESTATE, CREDIT, COMMODITY...
	Jurisdiction string          `gorm:"type:varchar(10)" json:"jurisdiction"`
	TokenSymbol  string          `gorm:"type:varchar(20)" json:"token_symbol"`
	TargetRaise  decimal.Decimal `gorm:"type:decimal(38,2);not null;default:0" json:"target_raise"`
	Description  string          `gorm:"type:text" json:"description"`
	Phase        string          `gorm:"type:varchar(30);not null;default:'DRAFT';index" json:"phase"`
	CreatedBy    *uuid.UUID      `gorm:"type:uuid" json:"created_by"`
	Creator      *User           `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
}
