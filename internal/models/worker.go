package models

import "time"

// WorkerRestart persists the consecutive restart count of a scope's worker,
// the only supervisor state that survives a daemon restart.
type WorkerRestart struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	Scope        string    `gorm:"type:varchar(120);not null;uniqueIndex"`
	RestartCount int       `gorm:"not null;default:0"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (WorkerRestart) TableName() string {
	return "worker_restarts"
}

// WorkerEvent is one supervisor status transition.
type WorkerEvent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Scope      string    `gorm:"type:varchar(120);not null;index"`
	InstanceID string    `gorm:"type:varchar(64);index"`
	BotType    string    `gorm:"type:varchar(20)"`
	FromStatus string    `gorm:"type:varchar(16)"`
	ToStatus   string    `gorm:"type:varchar(16);not null"`
	Reason     string    `gorm:"type:text"`
	At         time.Time `gorm:"type:timestamptz;not null;index"`
}

func (WorkerEvent) TableName() string {
	return "worker_events"
}
