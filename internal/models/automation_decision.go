package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DecisionSourceTimer  = "timer"
	DecisionSourceManual = "manual"
)

// AutomationDecision is the append-only audit trail of the controller.
type AutomationDecision struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement"`
	Scope            string         `gorm:"type:varchar(120);not null;uniqueIndex:idx_decision_scope_ts;index"`
	DecidedAt        time.Time      `gorm:"type:timestamptz;not null;uniqueIndex:idx_decision_scope_ts;index"`
	Enabled          bool           `gorm:"not null"`
	TriggeringStreak int            `gorm:"not null;default:0"`
	Reason           string         `gorm:"type:text;not null"`
	Source           string         `gorm:"type:varchar(20);not null;default:'timer'"`
	Action           string         `gorm:"type:varchar(20);not null;default:'none'"`
	Details          datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"type:timestamptz;autoCreateTime"`
}

func (AutomationDecision) TableName() string {
	return "automation_decisions"
}
