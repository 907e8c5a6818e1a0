package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DailyStatusComplete = "COMPLETE"
	DailyStatusSkipped  = "SKIPPED"
)

// DailyResult is the per-day aggregate outcome of one combination.
// (combination_key, date) is unique; writes are upserts.
type DailyResult struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	CombinationKey string    `gorm:"type:varchar(120);not null;uniqueIndex:idx_daily_result;index"`
	Date           time.Time `gorm:"type:date;not null;uniqueIndex:idx_daily_result;index"`

	Profit     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TradeCount int             `gorm:"not null;default:0"`
	Status     string          `gorm:"type:varchar(16);not null;index"`
	SkipReason string          `gorm:"type:varchar(60)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (DailyResult) TableName() string {
	return "daily_results"
}

func (r DailyResult) Complete() bool {
	return r.Status == DailyStatusComplete
}

// SameContent reports whether two results carry the same outcome for the
// same key, ignoring row metadata.
func (r DailyResult) SameContent(o DailyResult) bool {
	return r.CombinationKey == o.CombinationKey &&
		DateOnly(r.Date).Equal(DateOnly(o.Date)) &&
		r.Profit.Equal(o.Profit) &&
		r.TradeCount == o.TradeCount &&
		r.Status == o.Status &&
		r.SkipReason == o.SkipReason
}

// DateOnly truncates t to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
