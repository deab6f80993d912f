package report

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/testpilot/pkg/executor"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

const (
	iconPass = "PASS"
	iconFail = "FAIL"
)

func icon(passed bool) string {
	if passed {
		return iconPass
	}
	return iconFail
}

// Render returns the text report for tc at state. The output depends only
// on its inputs.
func Render(tc *testcase.TestCase, state executor.ExecutionState) string {
	passed := state.Passed()

	lines := []string{
		"# Test report: " + tc.Name,
		"",
		"**Status:** " + icon(passed),
		fmt.Sprintf("**Passed steps:** %d/%d", state.PassedCount(), len(tc.Steps)),
		"",
		"## Steps",
	}

	for _, r := range state.StepResults {
		label := fmt.Sprintf("Step %d", r.Index)
		if r.IsPrecondition() {
			label = "Preconditions"
		}
		text := r.RawText
		if text == "" {
			text = strings.TrimSpace(r.Action + " " + r.Target)
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s: %s", icon(r.Passed), label, text))
	}

	if len(tc.Verifications) > 0 {
		lines = append(lines, "", "## Verifications")
		for _, v := range tc.Verifications {
			lines = append(lines, fmt.Sprintf("- [%s] %s", icon(passed), v))
		}
	}

	if state.Failure != nil {
		lines = append(lines, "", "**Failure:** "+state.Failure.Message)
	}

	return strings.Join(lines, "\n")
}
