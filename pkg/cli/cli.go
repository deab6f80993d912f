// Package cli provides the command-line interface for testpilot.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/testpilot/pkg/config"
	"github.com/devicelab-dev/testpilot/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

const configKey = "config"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to testpilot.yaml (default: ./testpilot.yaml if present)",
		EnvVars: []string{"TESTPILOT_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-file",
		Usage:   "Log file path (overrides log.file)",
		EnvVars: []string{"TESTPILOT_LOG_FILE"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable debug logging",
		EnvVars: []string{"TESTPILOT_VERBOSE"},
	},
}

// NewApp builds the CLI application. Command output goes to out.
func NewApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "testpilot",
		Usage:   "LLM-driven mobile test case runner",
		Version: Version,
		Description: `testpilot turns natural-language mobile test cases into a phase-gated
tool-calling conversation and reports the outcome.

Examples:
  testpilot parse cases/login.txt
  testpilot tools --prompt cases/login.txt
  testpilot report reports/run-1
  testpilot run --device emulator-5554 cases/`,
		Writer:    out,
		ErrWriter: out,
		Flags:     GlobalFlags,
		Before:    setup,
		After: func(*cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			parseCommand,
			runCommand,
			toolsCommand,
			reportCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and starts the file logger.
func setup(c *cli.Context) error {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			cfg, err = config.LoadFromDir(wd)
		}
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if f := c.String("log-file"); f != "" {
		cfg.Log.File = f
	}
	level := cfg.Log.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	if err := logger.InitWithOptions(logger.Options{
		Path:       cfg.LogFile(),
		Level:      level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Debug("testpilot %s started, config: %+v", Version, *cfg)

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

// configFrom returns the configuration loaded by setup.
func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Defaults()
}

// requireArg returns the single positional argument of a command.
func requireArg(c *cli.Context, what string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one %s argument", what)
	}
	return c.Args().First(), nil
}
