package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/testpilot/pkg/agent"
	"github.com/devicelab-dev/testpilot/pkg/config"
	"github.com/devicelab-dev/testpilot/pkg/core"
	"github.com/devicelab-dev/testpilot/pkg/device"
	"github.com/devicelab-dev/testpilot/pkg/logger"
	"github.com/devicelab-dev/testpilot/pkg/report"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run test cases on connected Android devices",
	ArgsUsage: "<file|directory>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"udid"},
			Usage:   "Device serials to run on, comma-separated (default: the serials the cases name, else first connected)",
			EnvVars: []string{"TESTPILOT_DEVICE"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Report directory (overrides output.dir)",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Model name (overrides model.name)",
		},
	},
	Action: runRun,
}

func runRun(c *cli.Context) error {
	path, err := requireArg(c, "path")
	if err != nil {
		return err
	}
	cases, err := loadCases(path)
	if err != nil {
		return err
	}

	cfg := configFrom(c)
	if m := c.String("model"); m != "" {
		cfg.Model.Name = m
	}
	if o := c.String("output"); o != "" {
		cfg.Output.Dir = o
	}
	llm, err := newModel(cfg.Model)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	outDir := cfg.ReportsDir()
	serials := parseDeviceList(c.String("device"))
	if len(serials) == 0 {
		serials = caseSerials(cases)
	}
	workers, err := openWorkers(ctx, serials, filepath.Join(outDir, "screenshots"))
	if err != nil {
		return err
	}

	runner := &agent.Runner{
		Model:      llm,
		Available:  device.Definitions(),
		MaxTurns:   cfg.Execution.MaxTurns,
		Options:    cfg.ExecutorOptions(),
		Middleware: cfg.Middleware(),
		ModelName:  cfg.Model.Name,
		Version:    Version,
	}
	logger.Info("running %d test case(s) on %d device(s)", len(cases), len(workers))
	batch, err := runner.RunBatch(ctx, workers, cases)
	if err != nil {
		return err
	}

	out := c.App.Writer
	for i, res := range batch.Results {
		if res == nil {
			fmt.Fprintf(out, "%s: skipped (%v)\n\n", cases[i].Name, batch.Errors[i])
			continue
		}
		r := res.Report()
		saved, err := report.WriteJSON(filepath.Join(outDir, res.RunID), r)
		if err != nil {
			return err
		}
		report.PrintTable(out, r)
		if batch.Errors[i] != nil {
			fmt.Fprintf(out, "error: %v\n", batch.Errors[i])
		}
		fmt.Fprintf(out, "report: %s\n\n", saved)
	}
	fmt.Fprintf(out, "%d/%d passed, %d failed, %d skipped\n", batch.Passed, batch.Total, batch.Failed, batch.Skipped)

	if batch.Status != report.StatusPassed {
		return fmt.Errorf("%d of %d test case(s) did not pass", batch.Failed+batch.Skipped, batch.Total)
	}
	return nil
}

// newModel builds the chat model named by the configuration.
func newModel(m config.ModelConfig) (llms.Model, error) {
	switch strings.ToLower(m.Provider) {
	case "", "openai", "openrouter":
		var opts []openai.Option
		if m.APIKey != "" {
			opts = append(opts, openai.WithToken(m.APIKey))
		}
		if m.Name != "" {
			opts = append(opts, openai.WithModel(m.Name))
		}
		if m.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(m.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai model: %w", err)
		}
		return llm, nil
	case "ollama":
		var opts []ollama.Option
		if m.Name != "" {
			opts = append(opts, ollama.WithModel(m.Name))
		}
		if m.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(m.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("ollama model: %w", err)
		}
		return llm, nil
	}
	return nil, core.ErrInvalidConfig.
		WithMessage(fmt.Sprintf("unknown model provider %q", m.Provider)).
		WithDetails(map[string]any{"field": "model.provider", "value": m.Provider})
}

// parseDeviceList splits a comma-separated serial list.
func parseDeviceList(flag string) []string {
	var serials []string
	for _, s := range strings.Split(flag, ",") {
		if s = strings.TrimSpace(s); s != "" {
			serials = append(serials, s)
		}
	}
	return serials
}

// caseSerials returns the distinct device serials the cases name, in order.
func caseSerials(cases []*testcase.TestCase) []string {
	seen := map[string]bool{}
	var serials []string
	for _, tc := range cases {
		if s := tc.DeviceSerial; s != "" && !seen[s] {
			seen[s] = true
			serials = append(serials, s)
		}
	}
	return serials
}

// openWorkers connects to each serial, or to the first connected device
// when none are given.
func openWorkers(ctx context.Context, serials []string, screenshotDir string) ([]agent.Worker, error) {
	if len(serials) == 0 {
		serials = []string{""}
	}
	workers := make([]agent.Worker, 0, len(serials))
	for i, serial := range serials {
		dev, err := device.New(ctx, serial)
		if err != nil {
			return nil, err
		}
		tools := device.NewTools(dev)
		tools.ScreenshotDir = screenshotDir
		logger.Info("worker %d: device %s", i, dev.Serial())
		workers = append(workers, agent.Worker{ID: i, Serial: dev.Serial(), Tools: tools})
	}
	return workers, nil
}
