package repository

import (
	"context"
	"time"

	"github.com/jamesmarlowww/tradingbot/internal/models"
)

// Repository is the persistence client consumed by the automation core.
// Writes are idempotent: daily results upsert on (combination_key, date),
// decisions on (scope, decided_at).
type Repository interface {
	// Combination registry (append-only).
	EnsureCombination(ctx context.Context, item *models.Combination) error
	ListCombinations(ctx context.Context) ([]models.Combination, error)

	// Daily results.
	UpsertDailyResult(ctx context.Context, item *models.DailyResult) error
	ListDailyResults(ctx context.Context, params ListDailyResultsParams) ([]models.DailyResult, error)

	// Streak state cache.
	ReadStreakState(ctx context.Context, scope string) (*models.StreakState, error)
	WriteStreakState(ctx context.Context, item *models.StreakState) error
	ListStreakStates(ctx context.Context) ([]models.StreakState, error)

	// Automation decisions (append-only).
	AppendAutomationDecision(ctx context.Context, item *models.AutomationDecision) error
	LatestAutomationDecision(ctx context.Context, scope string) (*models.AutomationDecision, error)
	ListAutomationDecisions(ctx context.Context, params ListDecisionsParams) ([]models.AutomationDecision, error)

	// Supervisor bookkeeping.
	GetWorkerRestart(ctx context.Context, scope string) (*models.WorkerRestart, error)
	SaveWorkerRestart(ctx context.Context, item *models.WorkerRestart) error
	InsertWorkerEvent(ctx context.Context, item *models.WorkerEvent) error
	ListWorkerEvents(ctx context.Context, params ListWorkerEventsParams) ([]models.WorkerEvent, error)

	// Runtime switches.
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

type ListDailyResultsParams struct {
	CombinationKeys []string
	Since           *time.Time
	Until           *time.Time
	Limit           int
}

type ListDecisionsParams struct {
	Scope  *string
	Since  *time.Time
	Limit  int
	Offset int
}

type ListWorkerEventsParams struct {
	Scope *string
	Limit int
}

type ListSystemSettingsParams struct {
	Limit  int
	Offset int
	Prefix *string
}
