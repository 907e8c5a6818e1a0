package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
)

type Store struct {
	db *gorm.DB
}

var _ repository.Repository = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- combinations -----------------------------------------------------------

func (s *Store) EnsureCombination(ctx context.Context, item *models.Combination) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) ListCombinations(ctx context.Context) ([]models.Combination, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Combination
	if err := s.db.WithContext(ctx).Model(&models.Combination{}).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- daily results ----------------------------------------------------------

func (s *Store) UpsertDailyResult(ctx context.Context, item *models.DailyResult) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.CombinationKey = strings.TrimSpace(item.CombinationKey)
	if item.CombinationKey == "" || item.Date.IsZero() {
		return nil
	}
	item.Date = models.DateOnly(item.Date)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "combination_key"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"profit",
			"trade_count",
			"status",
			"skip_reason",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListDailyResults(ctx context.Context, params repository.ListDailyResultsParams) ([]models.DailyResult, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.DailyResult{})
	if keys := cleanStrings(params.CombinationKeys); len(keys) > 0 {
		query = query.Where("combination_key IN ?", keys)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("date >= ?", models.DateOnly(*params.Since))
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("date <= ?", models.DateOnly(*params.Until))
	}
	limit := params.Limit
	if limit <= 0 || limit > 20000 {
		limit = 20000
	}
	var items []models.DailyResult
	if err := query.Order("combination_key asc, date asc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- streak state -----------------------------------------------------------

func (s *Store) ReadStreakState(ctx context.Context, scope string) (*models.StreakState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, nil
	}
	var item models.StreakState
	err := s.db.WithContext(ctx).Model(&models.StreakState{}).Where("scope = ?", scope).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) WriteStreakState(ctx context.Context, item *models.StreakState) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Scope = strings.TrimSpace(item.Scope)
	if item.Scope == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_streak",
			"last_evaluated_date",
			"enabled",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListStreakStates(ctx context.Context) ([]models.StreakState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.StreakState
	if err := s.db.WithContext(ctx).Model(&models.StreakState{}).Order("scope asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- automation decisions ---------------------------------------------------

func (s *Store) AppendAutomationDecision(ctx context.Context, item *models.AutomationDecision) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Scope = strings.TrimSpace(item.Scope)
	if item.Scope == "" || item.DecidedAt.IsZero() {
		return nil
	}
	// A retried append of the same (scope, decided_at) is a no-op.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "decided_at"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) LatestAutomationDecision(ctx context.Context, scope string) (*models.AutomationDecision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, nil
	}
	var item models.AutomationDecision
	err := s.db.WithContext(ctx).Model(&models.AutomationDecision{}).
		Where("scope = ?", scope).
		Order("decided_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAutomationDecisions(ctx context.Context, params repository.ListDecisionsParams) ([]models.AutomationDecision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AutomationDecision{})
	if params.Scope != nil && strings.TrimSpace(*params.Scope) != "" {
		query = query.Where("scope = ?", strings.TrimSpace(*params.Scope))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("decided_at >= ?", params.Since.UTC())
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.AutomationDecision
	if err := query.Order("decided_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- supervisor bookkeeping -------------------------------------------------

func (s *Store) GetWorkerRestart(ctx context.Context, scope string) (*models.WorkerRestart, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.WorkerRestart
	err := s.db.WithContext(ctx).Model(&models.WorkerRestart{}).Where("scope = ?", strings.TrimSpace(scope)).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveWorkerRestart(ctx context.Context, item *models.WorkerRestart) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Scope = strings.TrimSpace(item.Scope)
	if item.Scope == "" {
		return nil
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"restart_count", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) InsertWorkerEvent(ctx context.Context, item *models.WorkerEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListWorkerEvents(ctx context.Context, params repository.ListWorkerEventsParams) ([]models.WorkerEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.WorkerEvent{})
	if params.Scope != nil && strings.TrimSpace(*params.Scope) != "" {
		query = query.Where("scope = ?", strings.TrimSpace(*params.Scope))
	}
	var items []models.WorkerEvent
	if err := query.Order("at desc, id desc").Limit(normalizeLimit(params.Limit, 100)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- system settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_by",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		pattern := strings.TrimSpace(*params.Prefix) + "%"
		query = query.Where("key LIKE ?", pattern)
	}
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Order("key asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
