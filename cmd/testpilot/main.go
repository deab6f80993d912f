// Command testpilot parses natural-language mobile test cases and inspects
// their tool plans and run reports.
package main

import "github.com/devicelab-dev/testpilot/pkg/cli"

func main() {
	cli.Execute()
}
