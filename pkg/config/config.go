// Package config handles configuration for testpilot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/testpilot/pkg/agent"
	"github.com/devicelab-dev/testpilot/pkg/core"
	"github.com/devicelab-dev/testpilot/pkg/executor"
)

// Config represents the workspace configuration (testpilot.yaml).
type Config struct {
	Execution ExecutionConfig `yaml:"execution"`
	Log       LogConfig       `yaml:"log"`
	Output    OutputConfig    `yaml:"output"`
	Model     ModelConfig     `yaml:"model"`
}

// ExecutionConfig tunes the state machine and the agent loop.
type ExecutionConfig struct {
	MaxStepRetries int `yaml:"maxStepRetries"` // Nudges before a silent model fails the run
	HistoryWindow  int `yaml:"historyWindow"`  // Trailing messages inspected per decision
	MaxTurns       int `yaml:"maxTurns"`       // Model calls per run

	ToolRetries         int  `yaml:"toolRetries"`         // Extra attempts for a tool result that reads like a failure
	ToolRetryDelayMs    int  `yaml:"toolRetryDelayMs"`    // Pause between those attempts
	LogToolCalls        bool `yaml:"logToolCalls"`        // Log each tool call with a result preview and timing
	ScreenshotHintAfter int  `yaml:"screenshotHintAfter"` // Recent screenshots before the model is steered to list_elements; 0 disables
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	File       string `yaml:"file"` // Empty uses <home>/logs/testpilot.log
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// OutputConfig configures where reports are written.
type OutputConfig struct {
	Dir string `yaml:"dir"` // Empty uses <home>/reports
}

// ModelConfig selects the model a run talks to.
type ModelConfig struct {
	Provider string `yaml:"provider"` // openai (default), openrouter or ollama
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"baseURL"`
	APIKey   string `yaml:"apiKey"` // Empty falls back to OPENAI_API_KEY
}

var (
	validLevels    = []string{"debug", "info", "warn", "error"}
	validProviders = []string{"", "openai", "openrouter", "ollama"}
)

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	mw := agent.DefaultMiddleware()
	return &Config{
		Execution: ExecutionConfig{
			MaxStepRetries:      executor.DefaultMaxStepRetries,
			HistoryWindow:       executor.DefaultHistoryWindow,
			MaxTurns:            agent.DefaultMaxTurns,
			ToolRetries:         mw.ToolRetries,
			ToolRetryDelayMs:    int(mw.RetryDelay / time.Millisecond),
			LogToolCalls:        mw.LogToolCalls,
			ScreenshotHintAfter: mw.ScreenshotHintAfter,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from a file. Fields the file omits keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir looks for testpilot.yaml or testpilot.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try testpilot.yaml first
	configPath := filepath.Join(dir, "testpilot.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try testpilot.yml
	configPath = filepath.Join(dir, "testpilot.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return defaults
	return Defaults(), nil
}

// Validate reports the first invalid setting as a config ExecutionError.
func (c *Config) Validate() error {
	invalid := func(field string, value any, why string) error {
		return core.ErrInvalidConfig.
			WithMessage(fmt.Sprintf("invalid %s: %s", field, why)).
			WithDetails(map[string]any{"field": field, "value": value})
	}

	if c.Execution.MaxStepRetries < 0 {
		return invalid("execution.maxStepRetries", c.Execution.MaxStepRetries, "must not be negative")
	}
	if c.Execution.HistoryWindow < 0 {
		return invalid("execution.historyWindow", c.Execution.HistoryWindow, "must not be negative")
	}
	if c.Execution.MaxTurns < 0 {
		return invalid("execution.maxTurns", c.Execution.MaxTurns, "must not be negative")
	}
	if c.Execution.ToolRetries < 0 {
		return invalid("execution.toolRetries", c.Execution.ToolRetries, "must not be negative")
	}
	if c.Execution.ToolRetryDelayMs < 0 {
		return invalid("execution.toolRetryDelayMs", c.Execution.ToolRetryDelayMs, "must not be negative")
	}
	if c.Execution.ScreenshotHintAfter < 0 {
		return invalid("execution.screenshotHintAfter", c.Execution.ScreenshotHintAfter, "must not be negative")
	}
	if c.Log.Level != "" && !contains(validLevels, strings.ToLower(c.Log.Level)) {
		return invalid("log.level", c.Log.Level, "must be one of "+strings.Join(validLevels, ", "))
	}
	if !contains(validProviders, strings.ToLower(c.Model.Provider)) {
		return invalid("model.provider", c.Model.Provider, "must be one of openai, openrouter, ollama")
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return invalid("log", c.Log, "sizes must not be negative")
	}
	return nil
}

// ExecutorOptions returns the state machine options.
func (c *Config) ExecutorOptions() executor.Options {
	return executor.Options{
		MaxStepRetries: c.Execution.MaxStepRetries,
		HistoryWindow:  c.Execution.HistoryWindow,
	}
}

// Middleware returns the runner's tool-call and model-call wrappers.
func (c *Config) Middleware() agent.Middleware {
	return agent.Middleware{
		ToolRetries:         c.Execution.ToolRetries,
		RetryDelay:          time.Duration(c.Execution.ToolRetryDelayMs) * time.Millisecond,
		LogToolCalls:        c.Execution.LogToolCalls,
		ScreenshotHintAfter: c.Execution.ScreenshotHintAfter,
	}
}

// LogFile returns the configured log path or the default under home.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(GetLogDir(), "testpilot.log")
}

// ReportsDir returns the configured report directory or the default under
// home.
func (c *Config) ReportsDir() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return GetReportsDir()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
