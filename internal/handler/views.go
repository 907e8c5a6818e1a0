package handler

import (
	"encoding/json"
	"time"

	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/supervisor"
)

type streakView struct {
	CurrentStreak     int     `json:"current_streak"`
	LastEvaluatedDate *string `json:"last_evaluated_date,omitempty"`
	Enabled           bool    `json:"enabled"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

type decisionView struct {
	ID               uint64          `json:"id"`
	Scope            string          `json:"scope"`
	DecidedAt        time.Time       `json:"decided_at"`
	Enabled          bool            `json:"enabled"`
	TriggeringStreak int             `json:"triggering_streak"`
	Reason           string          `json:"reason"`
	Source           string          `json:"source"`
	Action           string          `json:"action"`
	Details          json.RawMessage `json:"details,omitempty"`
}

type resultView struct {
	CombinationKey string `json:"combination_key"`
	Date           string `json:"date"`
	Profit         string `json:"profit"`
	TradeCount     int    `json:"trade_count"`
	Status         string `json:"status"`
	SkipReason     string `json:"skip_reason,omitempty"`
}

type workerEventView struct {
	Scope      string    `json:"scope"`
	InstanceID string    `json:"instance_id,omitempty"`
	BotType    string    `json:"bot_type,omitempty"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

type scopeView struct {
	Scope    string                    `json:"scope"`
	BotType  string                    `json:"bot_type"`
	Members  []string                  `json:"members"`
	Group    bool                      `json:"group"`
	Override bool                      `json:"override"`
	Hold     bool                      `json:"hold"`
	Streak   *streakView               `json:"streak,omitempty"`
	Decision *decisionView             `json:"latest_decision,omitempty"`
	Worker   *supervisor.WorkerProcess `json:"worker,omitempty"`
}

func toStreakView(s *models.StreakState) *streakView {
	if s == nil {
		return nil
	}
	out := &streakView{CurrentStreak: s.CurrentStreak, Enabled: s.Enabled}
	if s.LastEvaluatedDate != nil {
		d := models.DateOnly(*s.LastEvaluatedDate).Format(dateLayout)
		out.LastEvaluatedDate = &d
	}
	if !s.UpdatedAt.IsZero() {
		out.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func toDecisionView(d *models.AutomationDecision) *decisionView {
	if d == nil {
		return nil
	}
	out := &decisionView{
		ID:               d.ID,
		Scope:            d.Scope,
		DecidedAt:        d.DecidedAt.UTC(),
		Enabled:          d.Enabled,
		TriggeringStreak: d.TriggeringStreak,
		Reason:           d.Reason,
		Source:           d.Source,
		Action:           d.Action,
	}
	if len(d.Details) > 0 {
		out.Details = json.RawMessage(d.Details)
	}
	return out
}

func toResultView(r models.DailyResult) resultView {
	return resultView{
		CombinationKey: r.CombinationKey,
		Date:           models.DateOnly(r.Date).Format(dateLayout),
		Profit:         r.Profit.String(),
		TradeCount:     r.TradeCount,
		Status:         r.Status,
		SkipReason:     r.SkipReason,
	}
}

func toWorkerEventView(e models.WorkerEvent) workerEventView {
	return workerEventView{
		Scope:      e.Scope,
		InstanceID: e.InstanceID,
		BotType:    e.BotType,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Reason:     e.Reason,
		At:         e.At.UTC(),
	}
}
