// Package streak derives consecutive-positive-day streaks from daily results.
package streak

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamesmarlowww/tradingbot/internal/models"
)

// Policy decides how a SKIPPED day affects a running streak.
type Policy string

const (
	// SkippedNeutral neither extends nor breaks the streak.
	SkippedNeutral Policy = "neutral"
	// SkippedReset breaks the streak.
	SkippedReset Policy = "reset"
)

func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SkippedNeutral:
		return SkippedNeutral, nil
	case SkippedReset:
		return SkippedReset, nil
	default:
		return "", fmt.Errorf("unknown skipped day policy %q", raw)
	}
}

// SkipMemberIncomplete marks a group day where some member lacks a COMPLETE
// result.
const SkipMemberIncomplete = "member_incomplete"

type Params struct {
	RequiredPositiveDays int
	MinProfitThreshold   decimal.Decimal
	Policy               Policy
	// AsOf is the last date that should have a result. Days missing between
	// the newest result and AsOf are SKIPPED. Zero means the newest result.
	AsOf time.Time
}

// Compute scans results backward from AsOf. A COMPLETE day above the
// threshold extends the streak, a COMPLETE day at or below it ends the scan.
// SKIPPED days, including calendar gaps between results and after the newest
// one, follow the policy.
func Compute(results []models.DailyResult, p Params) int {
	rows := ordered(results)
	streak := 0
	if len(rows) > 0 && !p.AsOf.IsZero() && p.Policy == SkippedReset {
		if trailing := gapDays(rows[len(rows)-1].Date, p.AsOf.AddDate(0, 0, 1)); trailing > 0 {
			return 0
		}
	}
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.Complete() {
			if !r.Profit.GreaterThan(p.MinProfitThreshold) {
				return streak
			}
			streak++
		} else if p.Policy == SkippedReset {
			return streak
		}
		if i > 0 && gapDays(rows[i-1].Date, r.Date) > 0 && p.Policy == SkippedReset {
			return streak
		}
	}
	return streak
}

func Enabled(streak, required int, override bool) bool {
	return override || streak >= required
}

// Evaluate is deterministic: the same history always yields the same state.
func Evaluate(scope string, results []models.DailyResult, p Params, override bool) models.StreakState {
	rows := ordered(results)
	n := Compute(rows, p)
	state := models.StreakState{
		Scope:         scope,
		CurrentStreak: n,
		Enabled:       Enabled(n, p.RequiredPositiveDays, override),
	}
	if len(rows) > 0 {
		last := models.DateOnly(rows[len(rows)-1].Date)
		state.LastEvaluatedDate = &last
	}
	return state
}

// Aggregate derives a group's daily series. A date is COMPLETE only when
// every member has a COMPLETE result for it; profit and trade count are
// summed.
func Aggregate(group string, members map[string][]models.DailyResult) []models.DailyResult {
	if len(members) == 0 {
		return nil
	}
	byDate := map[time.Time]map[string]models.DailyResult{}
	for key, rows := range members {
		for _, r := range rows {
			d := models.DateOnly(r.Date)
			if byDate[d] == nil {
				byDate[d] = map[string]models.DailyResult{}
			}
			byDate[d][key] = r
		}
	}
	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := make([]models.DailyResult, 0, len(dates))
	for _, d := range dates {
		row := models.DailyResult{CombinationKey: group, Date: d, Profit: decimal.Zero, Status: models.DailyStatusComplete}
		for key := range members {
			r, ok := byDate[d][key]
			if !ok || !r.Complete() {
				row = models.DailyResult{CombinationKey: group, Date: d, Profit: decimal.Zero, Status: models.DailyStatusSkipped, SkipReason: SkipMemberIncomplete}
				break
			}
			row.Profit = row.Profit.Add(r.Profit)
			row.TradeCount += r.TradeCount
		}
		out = append(out, row)
	}
	return out
}

// ordered sorts by date ascending; for duplicate dates the later entry wins.
func ordered(results []models.DailyResult) []models.DailyResult {
	rows := make([]models.DailyResult, len(results))
	copy(rows, results)
	sort.SliceStable(rows, func(i, j int) bool {
		return models.DateOnly(rows[i].Date).Before(models.DateOnly(rows[j].Date))
	})
	out := rows[:0]
	for _, r := range rows {
		if len(out) > 0 && models.DateOnly(out[len(out)-1].Date).Equal(models.DateOnly(r.Date)) {
			out[len(out)-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}

// gapDays counts the calendar days strictly between a and b.
func gapDays(a, b time.Time) int {
	n := int(models.DateOnly(b).Sub(models.DateOnly(a)).Hours()/24) - 1
	if n < 0 {
		return 0
	}
	return n
}
