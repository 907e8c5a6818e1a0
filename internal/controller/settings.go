package controller

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamesmarlowww/tradingbot/internal/config"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
	"github.com/jamesmarlowww/tradingbot/internal/strategy"
	"github.com/jamesmarlowww/tradingbot/internal/streak"
	"github.com/jamesmarlowww/tradingbot/internal/supervisor"
	"github.com/jamesmarlowww/tradingbot/internal/worker"
)

// Scope is one unit of automation: a single combination or a group of them.
type Scope struct {
	Name    string
	BotType string
	// Members are combination keys; a combination scope is its own member.
	Members []string
}

func (s Scope) Group() bool {
	return len(s.Members) != 1 || s.Members[0] != s.Name
}

// Settings is an immutable snapshot; replace it with Reload.
type Settings struct {
	RequiredPositiveDays int
	MinProfitThreshold   decimal.Decimal
	EvaluationInterval   time.Duration
	EmergencyOverride    bool
	Policy               streak.Policy
	StalenessBound       time.Duration
	HysteresisCycles     int
	LookbackDays         int
	ScopeTimeout         time.Duration
	ShutdownGrace        time.Duration
	Persist              retry.Policy
	Scopes               []Scope
}

func (s Settings) StreakParams() streak.Params {
	return streak.Params{
		RequiredPositiveDays: s.RequiredPositiveDays,
		MinProfitThreshold:   s.MinProfitThreshold,
		Policy:               s.Policy,
	}
}

func (s Settings) Scope(name string) (Scope, bool) {
	for _, sc := range s.Scopes {
		if sc.Name == name {
			return sc, true
		}
	}
	return Scope{}, false
}

// SettingsFromConfig validates the automation options and derives the scope
// list from the configured combinations and groups.
func SettingsFromConfig(cfg config.Config) (Settings, error) {
	a := cfg.Automation
	threshold, err := decimal.NewFromString(strings.TrimSpace(defaultString(a.MinProfitThreshold, "0")))
	if err != nil {
		return Settings{}, fmt.Errorf("automation.min_profit_threshold: %w", err)
	}
	policy, err := streak.ParsePolicy(a.SkippedDayPolicy)
	if err != nil {
		return Settings{}, fmt.Errorf("automation.skipped_day_policy: %w", err)
	}
	s := Settings{
		RequiredPositiveDays: a.RequiredPositiveDays,
		MinProfitThreshold:   threshold,
		EvaluationInterval:   time.Duration(a.EvaluationIntervalSeconds) * time.Second,
		EmergencyOverride:    a.EmergencyOverride,
		Policy:               policy,
		StalenessBound:       time.Duration(a.DecisionStalenessBoundSeconds) * time.Second,
		HysteresisCycles:     a.HysteresisCycles,
		LookbackDays:         a.LookbackDays,
		ScopeTimeout:         a.ScopeTimeout,
		ShutdownGrace:        a.ShutdownGrace,
		Persist: retry.Policy{
			Attempts: a.PersistRetries,
			Base:     a.PersistBackoff,
			Max:      10 * a.PersistBackoff,
			Timeout:  a.PersistTimeout,
			Jitter:   true,
		},
	}
	if s.RequiredPositiveDays < 1 {
		return Settings{}, fmt.Errorf("automation.required_positive_days must be >= 1")
	}
	if s.HysteresisCycles < 1 {
		s.HysteresisCycles = 1
	}
	if s.LookbackDays < s.RequiredPositiveDays {
		return Settings{}, fmt.Errorf("automation.lookback_days (%d) must cover required_positive_days (%d)", s.LookbackDays, s.RequiredPositiveDays)
	}
	if s.EvaluationInterval <= 0 {
		return Settings{}, fmt.Errorf("automation.evaluation_interval_seconds must be positive")
	}
	if s.StalenessBound <= 0 {
		return Settings{}, fmt.Errorf("automation.decision_staleness_bound_seconds must be positive")
	}
	if s.ScopeTimeout > 0 {
		// A start that outlives the scope deadline is abandoned before the
		// supervisor can count enough failures to degrade it.
		if budget := supervisor.ConfigFrom(cfg.Supervisor).StartBudget(); s.ScopeTimeout < budget {
			return Settings{}, fmt.Errorf("automation.scope_timeout (%s) must cover the supervisor start budget (%s)", s.ScopeTimeout, budget)
		}
	}

	defaultBot := defaultString(a.DefaultBotType, worker.BotTest)
	seen := map[string]bool{}
	for _, c := range cfg.Combinations {
		combo := models.NewCombination(c.Symbol, c.Strategy, c.Timeframe)
		if combo.Symbol == "" || combo.Strategy == "" || combo.Timeframe == "" {
			return Settings{}, fmt.Errorf("combination %q is incomplete", combo.Key)
		}
		if seen[combo.Key] {
			return Settings{}, fmt.Errorf("duplicate combination %s", combo.Key)
		}
		if !slices.Contains(strategy.Names(), combo.Strategy) {
			return Settings{}, fmt.Errorf("combination %s: %w: %s", combo.Key, strategy.ErrUnknownStrategy, combo.Strategy)
		}
		bot := defaultString(c.BotType, defaultBot)
		if !worker.ValidBotType(bot) {
			return Settings{}, fmt.Errorf("combination %s: invalid bot_type %q", combo.Key, bot)
		}
		seen[combo.Key] = true
		s.Scopes = append(s.Scopes, Scope{Name: combo.Key, BotType: bot, Members: []string{combo.Key}})
	}
	for _, g := range cfg.Groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return Settings{}, fmt.Errorf("group name required")
		}
		if seen[name] {
			return Settings{}, fmt.Errorf("duplicate scope %s", name)
		}
		if len(g.Members) == 0 {
			return Settings{}, fmt.Errorf("group %s has no members", name)
		}
		members := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			combo, err := models.ParseCombinationKey(m)
			if err != nil {
				return Settings{}, fmt.Errorf("group %s: %w", name, err)
			}
			if !seen[combo.Key] {
				return Settings{}, fmt.Errorf("group %s: member %s is not a configured combination", name, combo.Key)
			}
			members = append(members, combo.Key)
		}
		bot := defaultString(g.BotType, defaultBot)
		if !worker.ValidBotType(bot) {
			return Settings{}, fmt.Errorf("group %s: invalid bot_type %q", name, bot)
		}
		seen[name] = true
		s.Scopes = append(s.Scopes, Scope{Name: name, BotType: bot, Members: members})
	}
	return s, nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}
