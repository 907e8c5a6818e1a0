package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting stores operator switches (emergency override, scope holds)
// that the controller snapshots at the start of every cycle.
type SystemSetting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Key string `gorm:"type:varchar(160);not null;uniqueIndex"`

	// JSON value; switches hold true/false.
	Value datatypes.JSON `gorm:"type:jsonb;not null"`

	Description string    `gorm:"type:text"`
	UpdatedBy   string    `gorm:"type:varchar(80)"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
