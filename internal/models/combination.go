package models

import (
	"fmt"
	"strings"
	"time"
)

// Combination is a (symbol, strategy, timeframe) tuple under evaluation.
// Rows are only ever inserted.
type Combination struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Key       string    `gorm:"type:varchar(120);not null;uniqueIndex"`
	Symbol    string    `gorm:"type:varchar(30);not null;index"`
	Strategy  string    `gorm:"type:varchar(60);not null"`
	Timeframe string    `gorm:"type:varchar(10);not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Combination) TableName() string {
	return "combinations"
}

func NewCombination(symbol, strategy, timeframe string) Combination {
	c := Combination{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Strategy:  strings.TrimSpace(strategy),
		Timeframe: strings.TrimSpace(timeframe),
	}
	c.Key = CombinationKey(c.Symbol, c.Strategy, c.Timeframe)
	return c
}

func CombinationKey(symbol, strategy, timeframe string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + ":" + strings.TrimSpace(strategy) + ":" + strings.TrimSpace(timeframe)
}

// ParseCombinationKey splits "BTCUSDT:RSIStrategy:15m".
func ParseCombinationKey(key string) (Combination, error) {
	parts := strings.Split(strings.TrimSpace(key), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Combination{}, fmt.Errorf("invalid combination key %q", key)
	}
	return NewCombination(parts[0], parts[1], parts[2]), nil
}
