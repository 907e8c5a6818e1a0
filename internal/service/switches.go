package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
)

const (
	SwitchGlobalOverride = "override.global"
	scopeOverridePrefix  = "override.scope."
	scopeHoldPrefix      = "hold.scope."
)

func ScopeOverrideKey(scope string) string {
	return scopeOverridePrefix + strings.TrimSpace(scope)
}

func ScopeHoldKey(scope string) string {
	return scopeHoldPrefix + strings.TrimSpace(scope)
}

// Switches is a point-in-time view of the operator switches.
type Switches struct {
	GlobalOverride bool
	ScopeOverride  map[string]bool
	Hold           map[string]bool
}

func (s Switches) OverrideFor(scope string) bool {
	return s.GlobalOverride || s.ScopeOverride[scope]
}

func (s Switches) HeldFor(scope string) bool {
	return s.Hold[scope]
}

// SwitchService stores emergency overrides and operator holds as system
// settings holding a JSON boolean.
type SwitchService struct {
	Repo repository.Repository
}

func (s *SwitchService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SwitchService) SetEnabled(ctx context.Context, key string, enabled bool, actor string) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: describe(key),
		UpdatedBy:   strings.TrimSpace(actor),
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// Snapshot reads every switch at once. Unlike IsEnabled it surfaces read
// errors: a cycle must not act on a partial view of the holds.
func (s *SwitchService) Snapshot(ctx context.Context) (Switches, error) {
	out := Switches{ScopeOverride: map[string]bool{}, Hold: map[string]bool{}}
	if s == nil || s.Repo == nil {
		return out, nil
	}
	for _, prefix := range []string{"override.", "hold."} {
		p := prefix
		items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Prefix: &p, Limit: 500})
		if err != nil {
			return out, fmt.Errorf("list %s switches: %w", strings.TrimSuffix(prefix, "."), err)
		}
		for _, item := range items {
			var on bool
			if len(item.Value) == 0 || json.Unmarshal(item.Value, &on) != nil {
				continue
			}
			switch {
			case item.Key == SwitchGlobalOverride:
				out.GlobalOverride = on
			case strings.HasPrefix(item.Key, scopeOverridePrefix):
				out.ScopeOverride[strings.TrimPrefix(item.Key, scopeOverridePrefix)] = on
			case strings.HasPrefix(item.Key, scopeHoldPrefix):
				out.Hold[strings.TrimPrefix(item.Key, scopeHoldPrefix)] = on
			}
		}
	}
	return out, nil
}

func describe(key string) string {
	switch {
	case key == SwitchGlobalOverride:
		return "emergency override for every scope"
	case strings.HasPrefix(key, scopeOverridePrefix):
		return "emergency override"
	case strings.HasPrefix(key, scopeHoldPrefix):
		return "operator hold"
	default:
		return "switch"
	}
}
