package config

import (
	"testing"
	"time"
)

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a := cfg.Automation
	if a.RequiredPositiveDays != 5 {
		t.Fatalf("required_positive_days=%d want=5", a.RequiredPositiveDays)
	}
	if a.MinProfitThreshold != "0" {
		t.Fatalf("min_profit_threshold=%q want=0", a.MinProfitThreshold)
	}
	if a.EvaluationIntervalSeconds != 86400 {
		t.Fatalf("evaluation_interval_seconds=%d want=86400", a.EvaluationIntervalSeconds)
	}
	if a.EmergencyOverride {
		t.Fatalf("emergency_override should default to false")
	}
	if a.SkippedDayPolicy != "neutral" {
		t.Fatalf("skipped_day_policy=%q want=neutral", a.SkippedDayPolicy)
	}
	if a.HysteresisCycles != 2 {
		t.Fatalf("hysteresis_cycles=%d want=2", a.HysteresisCycles)
	}
	if cfg.Supervisor.GracePeriod != 15*time.Second {
		t.Fatalf("grace_period=%s want=15s", cfg.Supervisor.GracePeriod)
	}
	if len(cfg.Supervisor.WorkerCommand) == 0 {
		t.Fatalf("worker_command default missing")
	}
	if a.ScopeTimeout != 4*time.Minute || cfg.Gate.ClockSkew != time.Minute {
		t.Fatalf("scope_timeout=%s clock_skew=%s", a.ScopeTimeout, cfg.Gate.ClockSkew)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ST_AUTOMATION_REQUIRED_POSITIVE_DAYS", "7")
	t.Setenv("ST_AUTOMATION_SKIPPED_DAY_POLICY", "reset")
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Automation.RequiredPositiveDays != 7 {
		t.Fatalf("required_positive_days=%d want=7", cfg.Automation.RequiredPositiveDays)
	}
	if cfg.Automation.SkippedDayPolicy != "reset" {
		t.Fatalf("skipped_day_policy=%q want=reset", cfg.Automation.SkippedDayPolicy)
	}
}
