package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/testpilot/pkg/report"
)

var reportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Print a saved run report",
	ArgsUsage: "<report.json|directory>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "text",
			Usage: "Print the text report instead of the table",
		},
	},
	Action: runReport,
}

func runReport(c *cli.Context) error {
	path, err := requireArg(c, "path")
	if err != nil {
		return err
	}
	r, err := report.ReadJSON(path)
	if err != nil {
		return err
	}

	out := c.App.Writer
	if c.Bool("text") {
		tc, state := report.Restore(r)
		fmt.Fprintln(out, report.Render(tc, state))
		return nil
	}
	report.PrintTable(out, r)
	return nil
}
