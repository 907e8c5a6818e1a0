package models

import "time"

// StreakState caches the streak derived from a scope's DailyResult history.
type StreakState struct {
	ID                uint64     `gorm:"primaryKey;autoIncrement"`
	Scope             string     `gorm:"type:varchar(120);not null;uniqueIndex"`
	CurrentStreak     int        `gorm:"not null;default:0"`
	LastEvaluatedDate *time.Time `gorm:"type:date"`
	Enabled           bool       `gorm:"not null;default:false"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (StreakState) TableName() string {
	return "streak_states"
}

// Equivalent ignores ID and UpdatedAt.
func (s StreakState) Equivalent(o StreakState) bool {
	if s.Scope != o.Scope || s.CurrentStreak != o.CurrentStreak || s.Enabled != o.Enabled {
		return false
	}
	if (s.LastEvaluatedDate == nil) != (o.LastEvaluatedDate == nil) {
		return false
	}
	if s.LastEvaluatedDate != nil && !DateOnly(*s.LastEvaluatedDate).Equal(DateOnly(*o.LastEvaluatedDate)) {
		return false
	}
	return true
}
