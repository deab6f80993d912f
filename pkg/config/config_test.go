package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/testpilot/pkg/agent"
	"github.com/devicelab-dev/testpilot/pkg/core"
	"github.com/devicelab-dev/testpilot/pkg/executor"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "testpilot.yaml", `
execution:
  maxStepRetries: 4
  historyWindow: 20
  maxTurns: 100
log:
  file: /var/log/tp.log
  level: debug
output:
  dir: ./out
model:
  provider: openai
  name: gpt-4o
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Execution.MaxStepRetries != 4 {
		t.Errorf("expected maxStepRetries 4, got %d", cfg.Execution.MaxStepRetries)
	}
	if cfg.Execution.HistoryWindow != 20 {
		t.Errorf("expected historyWindow 20, got %d", cfg.Execution.HistoryWindow)
	}
	if cfg.Execution.MaxTurns != 100 {
		t.Errorf("expected maxTurns 100, got %d", cfg.Execution.MaxTurns)
	}
	if cfg.Log.Level != "debug" || cfg.LogFile() != "/var/log/tp.log" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.ReportsDir() != "./out" {
		t.Errorf("expected reports dir ./out, got %s", cfg.ReportsDir())
	}
	if cfg.Model.Name != "gpt-4o" || cfg.Model.Provider != "openai" {
		t.Errorf("unexpected model config %+v", cfg.Model)
	}
	// Not in the file, so the default stays.
	if cfg.Log.MaxSizeMB != 10 {
		t.Errorf("expected default maxSizeMB 10, got %d", cfg.Log.MaxSizeMB)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/testpilot.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "testpilot.yaml", `execution: [invalid yaml`)

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"negative retries", "execution:\n  maxStepRetries: -1\n", "execution.maxStepRetries"},
		{"negative window", "execution:\n  historyWindow: -5\n", "execution.historyWindow"},
		{"negative turns", "execution:\n  maxTurns: -2\n", "execution.maxTurns"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad provider", "model:\n  provider: acme\n", "model.provider"},
		{"negative tool retries", "execution:\n  toolRetries: -1\n", "execution.toolRetries"},
		{"negative retry delay", "execution:\n  toolRetryDelayMs: -10\n", "execution.toolRetryDelayMs"},
		{"negative screenshot hint", "execution:\n  screenshotHintAfter: -1\n", "execution.screenshotHintAfter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "testpilot.yaml", tt.content)
			_, err := Load(path)
			if !errors.Is(err, core.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			var execErr *core.ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("expected *core.ExecutionError, got %T", err)
			}
			if execErr.Details["field"] != tt.field {
				t.Errorf("field = %v, want %s", execErr.Details["field"], tt.field)
			}
		})
	}
}

func TestLoadFromDir(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "testpilot.yaml", "execution:\n  maxTurns: 7\n")
		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Execution.MaxTurns != 7 {
			t.Errorf("expected maxTurns 7, got %d", cfg.Execution.MaxTurns)
		}
	})

	t.Run("yml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "testpilot.yml", "execution:\n  maxTurns: 8\n")
		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Execution.MaxTurns != 8 {
			t.Errorf("expected maxTurns 8, got %d", cfg.Execution.MaxTurns)
		}
	})

	t.Run("yaml wins", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "testpilot.yaml", "execution:\n  maxTurns: 1\n")
		writeConfig(t, dir, "testpilot.yml", "execution:\n  maxTurns: 2\n")
		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Execution.MaxTurns != 1 {
			t.Errorf("expected testpilot.yaml to win, got maxTurns %d", cfg.Execution.MaxTurns)
		}
	})

	t.Run("none", func(t *testing.T) {
		cfg, err := LoadFromDir(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if *cfg != *Defaults() {
			t.Errorf("expected defaults, got %+v", cfg)
		}
	})
}

func TestExecutorOptions(t *testing.T) {
	cfg := Defaults()
	if got := cfg.ExecutorOptions(); got != executor.DefaultOptions() {
		t.Errorf("ExecutorOptions() = %+v, want %+v", got, executor.DefaultOptions())
	}

	cfg.Execution.MaxStepRetries = 5
	if got := cfg.ExecutorOptions().MaxStepRetries; got != 5 {
		t.Errorf("MaxStepRetries = %d, want 5", got)
	}
}

func TestMiddleware(t *testing.T) {
	if got := Defaults().Middleware(); got != agent.DefaultMiddleware() {
		t.Errorf("Middleware() = %+v, want %+v", got, agent.DefaultMiddleware())
	}

	path := writeConfig(t, t.TempDir(), "testpilot.yaml", `
execution:
  toolRetries: 0
  toolRetryDelayMs: 250
  logToolCalls: false
  screenshotHintAfter: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := agent.Middleware{RetryDelay: 250 * time.Millisecond, ScreenshotHintAfter: 3}
	if got := cfg.Middleware(); got != want {
		t.Errorf("Middleware() = %+v, want %+v", got, want)
	}
}

func TestDefaultPaths(t *testing.T) {
	ResetHome()
	t.Setenv("TESTPILOT_HOME", "/tp")

	cfg := Defaults()
	if got, want := cfg.LogFile(), filepath.Join("/tp", "logs", "testpilot.log"); got != want {
		t.Errorf("LogFile() = %q, want %q", got, want)
	}
	if got, want := cfg.ReportsDir(), filepath.Join("/tp", "reports"); got != want {
		t.Errorf("ReportsDir() = %q, want %q", got, want)
	}
}
