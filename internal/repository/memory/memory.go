// Package memory is an in-process Repository used by tests and by
// store.driver=memory deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
)

type Store struct {
	mu sync.RWMutex

	nextID       uint64
	combinations map[string]models.Combination
	results      map[resultKey]models.DailyResult
	states       map[string]models.StreakState
	decisions    []models.AutomationDecision
	restarts     map[string]models.WorkerRestart
	events       []models.WorkerEvent
	settings     map[string]models.SystemSetting
}

type resultKey struct {
	key  string
	date time.Time
}

var _ repository.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		combinations: map[string]models.Combination{},
		results:      map[resultKey]models.DailyResult{},
		states:       map[string]models.StreakState{},
		restarts:     map[string]models.WorkerRestart{},
		settings:     map[string]models.SystemSetting{},
	}
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *Store) EnsureCombination(ctx context.Context, item *models.Combination) error {
	if item == nil || strings.TrimSpace(item.Key) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.combinations[item.Key]; ok {
		return nil
	}
	row := *item
	row.ID = s.id()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	s.combinations[row.Key] = row
	return nil
}

func (s *Store) ListCombinations(ctx context.Context) ([]models.Combination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Combination, 0, len(s.combinations))
	for _, c := range s.combinations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) UpsertDailyResult(ctx context.Context, item *models.DailyResult) error {
	if item == nil {
		return nil
	}
	item.CombinationKey = strings.TrimSpace(item.CombinationKey)
	if item.CombinationKey == "" || item.Date.IsZero() {
		return nil
	}
	item.Date = models.DateOnly(item.Date)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := resultKey{key: item.CombinationKey, date: item.Date}
	now := time.Now().UTC()
	row := *item
	if prev, ok := s.results[k]; ok {
		row.ID = prev.ID
		row.CreatedAt = prev.CreatedAt
	} else {
		row.ID = s.id()
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	s.results[k] = row
	return nil
}

func (s *Store) ListDailyResults(ctx context.Context, params repository.ListDailyResultsParams) ([]models.DailyResult, error) {
	keys := map[string]struct{}{}
	for _, k := range params.CombinationKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DailyResult, 0)
	for k, row := range s.results {
		if len(keys) > 0 {
			if _, ok := keys[k.key]; !ok {
				continue
			}
		}
		if params.Since != nil && k.date.Before(models.DateOnly(*params.Since)) {
			continue
		}
		if params.Until != nil && k.date.After(models.DateOnly(*params.Until)) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CombinationKey != out[j].CombinationKey {
			return out[i].CombinationKey < out[j].CombinationKey
		}
		return out[i].Date.Before(out[j].Date)
	})
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *Store) ReadStreakState(ctx context.Context, scope string) (*models.StreakState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.states[strings.TrimSpace(scope)]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *Store) WriteStreakState(ctx context.Context, item *models.StreakState) error {
	if item == nil || strings.TrimSpace(item.Scope) == "" {
		return nil
	}
	item.Scope = strings.TrimSpace(item.Scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *item
	if prev, ok := s.states[row.Scope]; ok {
		row.ID = prev.ID
	} else {
		row.ID = s.id()
	}
	row.UpdatedAt = time.Now().UTC()
	s.states[row.Scope] = row
	return nil
}

func (s *Store) ListStreakStates(ctx context.Context) ([]models.StreakState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.StreakState, 0, len(s.states))
	for _, row := range s.states {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

func (s *Store) AppendAutomationDecision(ctx context.Context, item *models.AutomationDecision) error {
	if item == nil || strings.TrimSpace(item.Scope) == "" || item.DecidedAt.IsZero() {
		return nil
	}
	item.Scope = strings.TrimSpace(item.Scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.decisions {
		if d.Scope == item.Scope && d.DecidedAt.Equal(item.DecidedAt) {
			return nil
		}
	}
	row := *item
	row.ID = s.id()
	row.CreatedAt = time.Now().UTC()
	s.decisions = append(s.decisions, row)
	return nil
}

func (s *Store) LatestAutomationDecision(ctx context.Context, scope string) (*models.AutomationDecision, error) {
	scope = strings.TrimSpace(scope)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.AutomationDecision
	for i := range s.decisions {
		d := s.decisions[i]
		if d.Scope != scope {
			continue
		}
		if latest == nil || d.DecidedAt.After(latest.DecidedAt) {
			row := d
			latest = &row
		}
	}
	return latest, nil
}

func (s *Store) ListAutomationDecisions(ctx context.Context, params repository.ListDecisionsParams) ([]models.AutomationDecision, error) {
	s.mu.RLock()
	out := make([]models.AutomationDecision, 0)
	for _, d := range s.decisions {
		if params.Scope != nil && strings.TrimSpace(*params.Scope) != "" && d.Scope != strings.TrimSpace(*params.Scope) {
			continue
		}
		if params.Since != nil && d.DecidedAt.Before(*params.Since) {
			continue
		}
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].DecidedAt.After(out[j].DecidedAt) })
	return page(out, params.Limit, params.Offset, 100), nil
}

func (s *Store) GetWorkerRestart(ctx context.Context, scope string) (*models.WorkerRestart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.restarts[strings.TrimSpace(scope)]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *Store) SaveWorkerRestart(ctx context.Context, item *models.WorkerRestart) error {
	if item == nil || strings.TrimSpace(item.Scope) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *item
	row.Scope = strings.TrimSpace(row.Scope)
	if prev, ok := s.restarts[row.Scope]; ok {
		row.ID = prev.ID
	} else {
		row.ID = s.id()
	}
	row.UpdatedAt = time.Now().UTC()
	s.restarts[row.Scope] = row
	return nil
}

func (s *Store) InsertWorkerEvent(ctx context.Context, item *models.WorkerEvent) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *item
	row.ID = s.id()
	s.events = append(s.events, row)
	return nil
}

func (s *Store) ListWorkerEvents(ctx context.Context, params repository.ListWorkerEventsParams) ([]models.WorkerEvent, error) {
	s.mu.RLock()
	out := make([]models.WorkerEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if params.Scope != nil && strings.TrimSpace(*params.Scope) != "" && e.Scope != strings.TrimSpace(*params.Scope) {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()
	return page(out, params.Limit, 0, 100), nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if item == nil || strings.TrimSpace(item.Key) == "" {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	row := *item
	if prev, ok := s.settings[row.Key]; ok {
		row.ID = prev.ID
		row.CreatedAt = prev.CreatedAt
	} else {
		row.ID = s.id()
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	s.settings[row.Key] = row
	return nil
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.settings[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	prefix := ""
	if params.Prefix != nil {
		prefix = strings.TrimSpace(*params.Prefix)
	}
	s.mu.RLock()
	out := make([]models.SystemSetting, 0, len(s.settings))
	for k, row := range s.settings {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, row)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return page(out, params.Limit, params.Offset, 500), nil
}

func page[T any](items []T, limit, offset, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
