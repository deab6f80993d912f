package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/testpilot/pkg/logger"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

var parseCommand = &cli.Command{
	Name:      "parse",
	Usage:     "Parse test case files and print the structured result",
	ArgsUsage: "<file|directory>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format (text, yaml, json)",
			Value:   "text",
		},
	},
	Action: runParse,
}

func runParse(c *cli.Context) error {
	path, err := requireArg(c, "path")
	if err != nil {
		return err
	}
	cases, err := loadCases(path)
	if err != nil {
		return err
	}
	logger.Info("parsed %d test case(s) from %s", len(cases), path)

	out := c.App.Writer
	switch format := c.String("format"); format {
	case "text":
		for i, tc := range cases {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprint(out, tc.Describe())
		}
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		for _, tc := range cases {
			if err := enc.Encode(tc); err != nil {
				return err
			}
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if len(cases) == 1 {
			return enc.Encode(cases[0])
		}
		return enc.Encode(cases)
	default:
		return fmt.Errorf("unknown format %q (expected text, yaml or json)", format)
	}
	return nil
}

// loadCases parses a single test case file or every test case in a
// directory.
func loadCases(path string) ([]*testcase.TestCase, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		cases, err := testcase.ParseDirectory(path)
		if err != nil {
			return nil, err
		}
		if len(cases) == 0 {
			return nil, fmt.Errorf("no test cases found in %s", path)
		}
		return cases, nil
	}
	tc, err := testcase.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return []*testcase.TestCase{tc}, nil
}
