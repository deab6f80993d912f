package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/testpilot/pkg/executor"
	"github.com/devicelab-dev/testpilot/pkg/toolpolicy"
)

var toolsCommand = &cli.Command{
	Name:      "tools",
	Usage:     "Show the tools offered for each step at every fallback level",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "prompt",
			Usage: "Also print the base system prompt",
		},
	},
	Action: runTools,
}

func runTools(c *cli.Context) error {
	path, err := requireArg(c, "file")
	if err != nil {
		return err
	}
	cases, err := loadCases(path)
	if err != nil {
		return err
	}

	out := c.App.Writer
	for i, tc := range cases {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "Test: %s\n", tc.Name)
		fmt.Fprintf(out, "Setup: %s\n", strings.Join(toolpolicy.SetupTools(), ", "))

		for _, step := range tc.Steps {
			fmt.Fprintf(out, "Step %d [%s] %s\n", step.Index, step.Action, step.RawText)
			for level := 0; level < toolpolicy.MaxPriority(step.Action); level++ {
				group := "default"
				if toolpolicy.SupportsFallback(step.Action) {
					group, _ = toolpolicy.GroupNameAt(level)
				}
				fmt.Fprintf(out, "  %d %-10s hint=%s tools=%s\n",
					level, group,
					toolpolicy.ResolveHint(step.Action, level),
					strings.Join(toolpolicy.ToolsForStep(step.Action, level), ","))
			}
		}

		if c.Bool("prompt") {
			fmt.Fprintln(out)
			fmt.Fprintln(out, executor.BasePrompt(tc))
		}
	}
	return nil
}
