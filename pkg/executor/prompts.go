package executor

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/core"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
	"github.com/devicelab-dev/testpilot/pkg/toolpolicy"
)

// directives renders the concrete tool directive for each action. The hint
// is the tool resolved for the current paradigm level.
var directives = map[testcase.ActionKind]func(s testcase.TestStep, hint string) string{
	testcase.ActionWait: func(s testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to wait %s seconds.\nArguments: seconds=%s", hint, s.Param("duration"), s.Param("duration"))
	},
	testcase.ActionClosePopup: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to close the popup on the current screen.\nIf there is no popup, call it anyway and report the result.", hint)
	},
	testcase.ActionCloseAd: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to close the advertisement on the current screen.", hint)
	},
	testcase.ActionClick: func(s testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to tap the element labelled %q.\nArguments: text=%q", hint, s.Target, s.Target)
	},
	testcase.ActionClickByID: func(s testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to tap the element by resource id.\nArguments: resource_id=%q", hint, s.Param("resource_id"))
	},
	testcase.ActionInputText: func(s testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to type into the focused input field.\nArguments: text=%q", hint, s.Param("text"))
	},
	testcase.ActionLongPress: func(s testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to long-press the element labelled %q.\nArguments: text=%q", hint, s.Target, s.Target)
	},
	testcase.ActionSwipe: func(s testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to swipe.\nArguments: direction=%q", hint, s.Param("direction"))
	},
	testcase.ActionSwipeUp: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to swipe up.\nArguments: direction=\"up\"", hint)
	},
	testcase.ActionSwipeDown: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to swipe down.\nArguments: direction=\"down\"", hint)
	},
	testcase.ActionStartToastListener: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to start capturing toast messages in the background.", hint)
	},
	testcase.ActionVerifyToast: func(s testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to read the latest toast, then check that it contains %q.\n"+
			"Reply \"verification passed\" if it does, otherwise \"verification failed: actual text is ...\".", hint, s.Param("contains"))
	},
	testcase.ActionScreenshot: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to capture the current screen.", hint)
	},
	testcase.ActionListElements: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to list the interactive elements on the current screen.", hint)
	},
	testcase.ActionAssertElement: func(s testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to inspect the current screen, then check that an element containing %q exists.\n"+
			"Reply \"verification passed\" if it does, otherwise \"verification failed: element not present\".", hint, s.Param("element_text"))
	},
	testcase.ActionBack: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to press the back key.\nArguments: key=\"back\"", hint)
	},
	testcase.ActionHome: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to go to the home screen.\nArguments: key=\"home\"", hint)
	},
	testcase.ActionLaunchApp: func(_ testcase.TestStep, hint string) string {
		return fmt.Sprintf("Call %s to launch the application under test.", hint)
	},
}

func directive(s testcase.TestStep, hint string) string {
	if fn, ok := directives[s.Action]; ok {
		return fn(s, hint)
	}
	return fmt.Sprintf("Call %s to perform: %s", hint, s.RawText)
}

// BasePrompt is a default runtime system prompt describing the whole test
// case. Runtimes with their own prompt do not need it.
func BasePrompt(tc *testcase.TestCase) string {
	var b strings.Builder
	b.WriteString("You are a mobile test execution agent. You control a real device through tools and execute a test case step by step.\n\n")
	b.WriteString("## Test case\n")
	fmt.Fprintf(&b, "- Name: %s\n- App package: %s\n- Device serial: %s\n\n", tc.Name, tc.AppPackage, tc.DeviceSerial)
	b.WriteString("## Steps\n")
	for _, s := range tc.Steps {
		fmt.Fprintf(&b, "  %d. %s\n", s.Index, s.RawText)
	}
	b.WriteString("\n## Verifications\n")
	for _, v := range tc.Verifications {
		fmt.Fprintf(&b, "  - %s\n", v)
	}
	b.WriteString("\n## Rules\n")
	b.WriteString("1. Execute only the step the system names, in order.\n")
	b.WriteString("2. Call exactly one tool per turn.\n")
	b.WriteString("3. Prefer mobile_click_by_text, then mobile_click_by_id, then mobile_click_by_som, then coordinates.\n")
	b.WriteString("4. Close popups with mobile_close_popup when they block the screen.\n")
	b.WriteString("5. Report failures as they are. Do not retry on your own; wait for the system.")
	return b.String()
}

func setupInstruction(tc *testcase.TestCase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are preparing to run the test case %q.\n\n", tc.Name)
	b.WriteString("## Preconditions\n")
	if len(tc.Preconditions) == 0 {
		b.WriteString("  (none declared)\n")
	}
	for _, p := range tc.Preconditions {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	fmt.Fprintf(&b, "\n## Device\n- App package: %s\n- Device serial: %s\n\n", tc.AppPackage, tc.DeviceSerial)
	b.WriteString("## Task\n")
	b.WriteString("Verify the device and app preconditions. Call one of the offered tools to inspect the device; do not answer from memory.\n")
	b.WriteString("After the tool result arrives, reply \"Preconditions met\" or \"Preconditions not met: <reason>\".")
	return b.String()
}

func progressBar(current, total int) string {
	if total <= 0 {
		return "[]"
	}
	remaining := total - current - 1
	if remaining < 0 {
		remaining = 0
	}
	return "[" + strings.Repeat("=", current) + ">" + strings.Repeat(".", remaining) + "]"
}

func stepInstruction(tc *testcase.TestCase, pos int, priority int) string {
	s := tc.Steps[pos]
	hint := toolpolicy.ResolveHint(s.Action, priority)

	var b strings.Builder
	fmt.Fprintf(&b, "You are executing the test case %q.\n\n", tc.Name)
	fmt.Fprintf(&b, "## Progress: %s (%d/%d)\n\n", progressBar(pos, len(tc.Steps)), pos+1, len(tc.Steps))
	fmt.Fprintf(&b, "## Current step (step %d)\n%s\n\n", s.Index, s.RawText)
	b.WriteString("## Directive\n")
	b.WriteString(directive(s, hint))
	if priority > 0 {
		if group, ok := toolpolicy.GroupNameAt(priority); ok {
			fmt.Fprintf(&b, "\nEarlier attempts failed; only the %s tools are available for this step now.", group)
		}
	}
	b.WriteString("\n\n## Rules\n")
	b.WriteString("- You must issue a real tool call. A text-only answer does not count.\n")
	b.WriteString("- Call exactly one tool in this turn.\n")
	b.WriteString("- Execute only the current step. Do not skip ahead.\n")
	b.WriteString("- If the tool fails, report the error as is. Do not retry on your own.")
	return b.String()
}

func verifyInstruction(tc *testcase.TestCase) string {
	var b strings.Builder
	b.WriteString("All steps have been executed. Analyze the evidence already collected; no tools are available.\n\n")
	b.WriteString("## Verifications\n")
	if len(tc.Verifications) == 0 {
		b.WriteString("  (none declared)\n")
	}
	for _, v := range tc.Verifications {
		fmt.Fprintf(&b, "  - %s\n", v)
	}
	b.WriteString("\nQuote the exact text you observed for each verification.")
	return b.String()
}

func reportInstruction(tc *testcase.TestCase, state ExecutionState) string {
	var b strings.Builder
	b.WriteString("The test has finished. Write a short test report without calling any tools.\n\n")
	fmt.Fprintf(&b, "## Run\n- Test case: %s\n- Final phase: %s\n- Verification passed: %t\n", tc.Name, state.Phase, state.VerificationPassed)
	if state.Failure != nil {
		fmt.Fprintf(&b, "- Failure: %s\n", state.Failure.Message)
	}
	b.WriteString("\n## Step results\n")
	for _, r := range state.StepResults {
		status := "passed"
		if !r.Passed {
			status = "failed"
		}
		label := fmt.Sprintf("step %d", r.Index)
		if r.IsPrecondition() {
			label = "preconditions"
		}
		fmt.Fprintf(&b, "  - %s: %s %s -> %s\n", label, r.Action, r.Target, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Synthetic instructions injected between model turns.

func humanMessage(text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	}
}

func preconditionsMetMessage(tc *testcase.TestCase) llms.MessageContent {
	if len(tc.Steps) == 0 {
		return humanMessage("Preconditions are met. The test case has no steps; proceed to verification.")
	}
	first := tc.Steps[0]
	return humanMessage(fmt.Sprintf("Preconditions are met. Start step 1 now: %s\nCall the %s tool to perform it.",
		first.RawText, toolpolicy.ResolveHint(first.Action, 0)))
}

func setupNudgeMessage() llms.MessageContent {
	return humanMessage("You must call a tool to check the preconditions; a text-only answer is not accepted.\nCall one of the offered tools now.")
}

func retryMessage(s testcase.TestStep) llms.MessageContent {
	return humanMessage(fmt.Sprintf("You did not call a tool. Call a tool now to execute step %d: %s\n"+
		"Issue an actual tool call; a text-only answer is not accepted. Call exactly one tool.", s.Index, s.RawText))
}

func fallbackMessage(s testcase.TestStep, group, toolErr string) llms.MessageContent {
	var how string
	switch group {
	case toolpolicy.GroupSoM:
		how = "Switch to the annotated screenshot approach: call mobile_screenshot_with_som first, then call mobile_click_by_som with the number of the target."
	case toolpolicy.GroupCoordinate:
		how = "Switch to the coordinate approach: call mobile_screenshot_with_grid first, then operate with the coordinate tools."
	default:
		how = fmt.Sprintf("Use another way to execute step %d.", s.Index)
	}
	return humanMessage(fmt.Sprintf("The previous tool failed: %s\n%s\nTarget: %s", truncate(toolErr, 200), how, s.RawText))
}

func nextStepMessage(done testcase.TestStep, next testcase.TestStep) llms.MessageContent {
	return humanMessage(fmt.Sprintf("Step %d is complete. Now execute step %d: %s\nCall the %s tool to perform it. Call exactly one tool.",
		done.Index, next.Index, next.RawText, toolpolicy.ResolveHint(next.Action, 0)))
}

func verifyMessage() llms.MessageContent {
	return humanMessage("All steps have been executed. Perform the final verification.")
}

// phaseLabel is used in log lines.
func phaseLabel(p core.Phase) string {
	return strings.ToUpper(p.String())
}
