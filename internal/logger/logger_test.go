package logger

import (
	"testing"

	"github.com/jamesmarlowww/tradingbot/internal/config"
)

func TestBuildConfig(t *testing.T) {
	zc, err := buildConfig(config.LogConfig{Level: "DEBUG"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if zc.Encoding != "json" || zc.OutputPaths[0] != "stdout" {
		t.Fatalf("encoding=%s outputs=%v", zc.Encoding, zc.OutputPaths)
	}
	if !zc.Level.Enabled(-1) {
		t.Fatalf("debug level not applied")
	}

	if _, err := buildConfig(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected bad level error")
	}
	if _, err := buildConfig(config.LogConfig{Encoding: "xml"}); err == nil {
		t.Fatalf("expected bad encoding error")
	}
}

func TestWorkerConfigWritesToStderr(t *testing.T) {
	zc, err := workerConfig(config.LogConfig{Encoding: "console", Output: "stdout"}, "BTCUSDT:RSIStrategy:15m", "abc")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(zc.OutputPaths) != 1 || zc.OutputPaths[0] != "stderr" {
		t.Fatalf("outputs=%v want [stderr]", zc.OutputPaths)
	}
	if zc.InitialFields["scope"] != "BTCUSDT:RSIStrategy:15m" || zc.InitialFields["instance_id"] != "abc" {
		t.Fatalf("initial fields=%v", zc.InitialFields)
	}
}
