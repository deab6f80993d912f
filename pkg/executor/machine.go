// Package executor drives a parsed test case through an LLM agent loop.
//
// The Machine never calls a model, executes a tool or blocks. The runtime
// owning the conversation calls BeforeModelCall before each model call and
// AfterModelCall right after it, and applies the returned Delta.
package executor

import (
	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/core"
	"github.com/devicelab-dev/testpilot/pkg/logger"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
	"github.com/devicelab-dev/testpilot/pkg/toolpolicy"
)

const (
	// DefaultMaxStepRetries bounds how often a model that ignored an
	// instruction is nudged before the run fails.
	DefaultMaxStepRetries = 2
	// DefaultHistoryWindow is how many trailing messages are inspected.
	DefaultHistoryWindow = 10
)

// Options tunes a Machine. Zero fields take their defaults.
type Options struct {
	MaxStepRetries int
	HistoryWindow  int
}

// DefaultOptions returns the standard options.
func DefaultOptions() Options {
	return Options{
		MaxStepRetries: DefaultMaxStepRetries,
		HistoryWindow:  DefaultHistoryWindow,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxStepRetries <= 0 {
		o.MaxStepRetries = DefaultMaxStepRetries
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = DefaultHistoryWindow
	}
	return o
}

// Machine is the execution state machine for one test case.
type Machine struct {
	tc   *testcase.TestCase
	opts Options
}

var _ Hooks = (*Machine)(nil)

// New creates a Machine bound to tc.
func New(tc *testcase.TestCase, opts Options) *Machine {
	return &Machine{tc: tc, opts: opts.withDefaults()}
}

// TestCase returns the test case the machine drives.
func (m *Machine) TestCase() *testcase.TestCase {
	return m.tc
}

// Options returns the effective options.
func (m *Machine) Options() Options {
	return m.opts
}

// BeforeModelCall implements Hooks.
func (m *Machine) BeforeModelCall(state ExecutionState) CallPlan {
	plan := CallPlan{Phase: state.Phase, Tools: []string{}, ForbidParallelToolCalls: true}

	switch state.Phase {
	case core.PhaseSetup:
		plan.Instruction = setupInstruction(m.tc)
		plan.Tools = toolpolicy.SetupTools()
		logger.Info("[SETUP] offering %v", plan.Tools)

	case core.PhaseExecuting:
		if state.StepIndex >= len(m.tc.Steps) {
			plan.Instruction = verifyInstruction(m.tc)
			break
		}
		step := m.tc.Steps[state.StepIndex]
		plan.Instruction = stepInstruction(m.tc, state.StepIndex, state.ToolPriorityIdx)
		plan.Tools = toolpolicy.ToolsForStep(step.Action, state.ToolPriorityIdx)
		group := "hint"
		if toolpolicy.SupportsFallback(step.Action) {
			group, _ = toolpolicy.GroupNameAt(state.ToolPriorityIdx)
		}
		logger.Info("[EXECUTING] step %d/%d %s, paradigm %s (%d/%d), %d tools",
			step.Index, len(m.tc.Steps), step.Describe(), group,
			state.ToolPriorityIdx, toolpolicy.MaxPriority(step.Action), len(plan.Tools))

	case core.PhaseVerifying:
		plan.Instruction = verifyInstruction(m.tc)
		logger.Info("[VERIFYING] no tools offered")

	case core.PhaseCompleted, core.PhaseFailed:
		plan.Instruction = reportInstruction(m.tc, state)
		logger.Info("[%s] requesting report", phaseLabel(state.Phase))
	}
	return plan
}

// AfterModelCall implements Hooks.
func (m *Machine) AfterModelCall(state ExecutionState, messages []llms.MessageContent) *Delta {
	if state.Phase.IsTerminal() {
		return &Delta{Jump: JumpToEnd}
	}

	var rewritten *llms.MessageContent
	var calls []llms.ToolCall
	if i, ok := lastModelMessage(messages); ok {
		msg := messages[i]
		if deduped, changed := dedupeToolCalls(msg); changed {
			logger.Info("dropped %d duplicate tool calls", len(ToolCalls(msg))-len(ToolCalls(deduped)))
			rewritten = &deduped
			msg = deduped
		}
		calls = ToolCalls(msg)
	}
	window := recent(messages, m.opts.HistoryWindow)

	var d *Delta
	switch state.Phase {
	case core.PhaseSetup:
		d = m.afterSetup(state, calls, window)
	case core.PhaseExecuting:
		d = m.afterExecuting(state, calls, window)
	case core.PhaseVerifying:
		d = m.afterVerifying(state, window)
	}

	if rewritten != nil {
		if d == nil {
			d = &Delta{}
		}
		d.ModelMessage = rewritten
	}
	return d
}

func (m *Machine) afterSetup(state ExecutionState, calls []llms.ToolCall, window []llms.MessageContent) *Delta {
	if len(calls) > 0 {
		logger.Info("[SETUP] model called %v", callNames(calls))
		return nil
	}

	if hasToolResult(window) {
		if reason := m.checkPreconditions(window); reason != "" {
			logger.Error("[SETUP] -> FAILED: %s", reason)
			next := state.withResult(StepResult{
				Index:   PreconditionIndex,
				Action:  PreconditionAction,
				RawText: reason,
			})
			return m.fail(next, core.ErrPreconditionUnmet.WithMessage(reason))
		}
		next, err := state.moveTo(core.PhaseExecuting, 0)
		if err != nil {
			return m.rejected(state, err)
		}
		logger.Info("[SETUP] -> EXECUTING, preconditions %v", m.tc.Preconditions)
		return &Delta{State: &next, Jump: JumpToModel, Messages: []llms.MessageContent{preconditionsMetMessage(m.tc)}}
	}

	if state.StepRetryCount >= m.opts.MaxStepRetries {
		logger.Error("[SETUP] retries exhausted, model never checked preconditions -> FAILED")
		next := state.withResult(StepResult{
			Index:   PreconditionIndex,
			Action:  PreconditionAction,
			RawText: "precondition check never ran: the model did not call a tool",
		})
		return m.fail(next, core.ErrPreconditionNotChecked)
	}
	next := state.retried()
	logger.Warn("[SETUP] model answered without a tool call, nudging (%d/%d)", next.StepRetryCount, m.opts.MaxStepRetries)
	return &Delta{State: &next, Jump: JumpToModel, Messages: []llms.MessageContent{setupNudgeMessage()}}
}

func (m *Machine) afterExecuting(state ExecutionState, calls []llms.ToolCall, window []llms.MessageContent) *Delta {
	if len(calls) > 0 {
		logger.Info("[EXECUTING] step %d: model called %v", state.StepIndex+1, callNames(calls))
		return nil
	}

	if state.StepIndex >= len(m.tc.Steps) {
		next, err := state.moveTo(core.PhaseVerifying, state.StepIndex)
		if err != nil {
			return m.rejected(state, err)
		}
		logger.Info("[EXECUTING] no steps left -> VERIFYING")
		return &Delta{State: &next, Jump: JumpToModel, Messages: []llms.MessageContent{verifyMessage()}}
	}

	step := m.tc.Steps[state.StepIndex]
	result, found := lastStepToolResult(window)

	switch {
	case !found:
		if state.StepRetryCount >= m.opts.MaxStepRetries {
			logger.Error("[EXECUTING] step %d %s: no tool call after %d retries -> FAILED", step.Index, step.Action, m.opts.MaxStepRetries)
			next := state.withResult(stepResult(step, false))
			return m.fail(next, core.ErrModelNoToolCall.WithDetails(map[string]any{"step": step.Index}))
		}
		next := state.retried()
		logger.Warn("[EXECUTING] step %d %s: no tool call, retry %d/%d", step.Index, step.Action, next.StepRetryCount, m.opts.MaxStepRetries)
		return &Delta{State: &next, Jump: JumpToModel, Messages: []llms.MessageContent{retryMessage(step)}}

	case IsErrorText(result):
		if toolpolicy.SupportsFallback(step.Action) && state.ToolPriorityIdx+1 < toolpolicy.MaxPriority(step.Action) {
			next := state.degraded()
			from, _ := toolpolicy.GroupNameAt(state.ToolPriorityIdx)
			to, _ := toolpolicy.GroupNameAt(next.ToolPriorityIdx)
			logger.Warn("[EXECUTING] step %d %s: tool failed (%s), paradigm %s -> %s",
				step.Index, step.Action, truncate(result, 300), from, to)
			return &Delta{State: &next, Jump: JumpToModel, Messages: []llms.MessageContent{fallbackMessage(step, to, result)}}
		}
		failure := core.ErrToolFailed
		if toolpolicy.SupportsFallback(step.Action) {
			failure = core.ErrParadigmsExhausted
		}
		logger.Error("[EXECUTING] step %d %s: %s -> FAILED: %s", step.Index, step.Action, failure.Message, truncate(result, 200))
		next := state.withResult(stepResult(step, false))
		return m.fail(next, failure.WithDetails(map[string]any{"step": step.Index, "tool_output": truncate(result, 500)}))
	}

	passed := state.withResult(stepResult(step, true))
	logger.Info("[EXECUTING] step %d %s -> PASSED", step.Index, step.Describe())

	nextIdx := state.StepIndex + 1
	if nextIdx >= len(m.tc.Steps) {
		next, err := passed.moveTo(core.PhaseVerifying, nextIdx)
		if err != nil {
			return m.rejected(state, err)
		}
		logger.Info("[EXECUTING] all steps done -> VERIFYING")
		return &Delta{State: &next, Jump: JumpToModel, Messages: []llms.MessageContent{verifyMessage()}}
	}
	next, err := passed.moveTo(core.PhaseExecuting, nextIdx)
	if err != nil {
		return m.rejected(state, err)
	}
	return &Delta{State: &next, Jump: JumpToModel, Messages: []llms.MessageContent{nextStepMessage(step, m.tc.Steps[nextIdx])}}
}

func (m *Machine) afterVerifying(state ExecutionState, window []llms.MessageContent) *Delta {
	passed := m.checkVerification(window)
	if !passed {
		logger.Error("[VERIFYING] none of %v found -> FAILED", m.tc.Verifications)
		next := state
		next.VerificationPassed = false
		return m.fail(next, core.ErrVerificationUnmet.WithDetails(map[string]any{"verifications": m.tc.Verifications}))
	}
	next, err := state.moveTo(core.PhaseCompleted, state.StepIndex)
	if err != nil {
		return m.rejected(state, err)
	}
	next.VerificationPassed = true
	logger.Info("[VERIFYING] -> COMPLETED")
	return &Delta{State: &next, Jump: JumpToEnd}
}

// fail moves state to FAILED with the given reason and ends the run.
func (m *Machine) fail(state ExecutionState, reason *core.ExecutionError) *Delta {
	next, err := state.moveTo(core.PhaseFailed, state.StepIndex)
	if err != nil {
		return m.rejected(state, err)
	}
	next.Failure = reason
	return &Delta{State: &next, Jump: JumpToEnd}
}

// rejected handles a transition the state refused. The state stays as it
// was and the run ends.
func (m *Machine) rejected(state ExecutionState, err error) *Delta {
	logger.Error("rejected transition from %s: %v", phaseLabel(state.Phase), err)
	return &Delta{Jump: JumpToEnd}
}

func stepResult(s testcase.TestStep, passed bool) StepResult {
	return StepResult{
		Index:   s.Index,
		Action:  string(s.Action),
		Target:  s.Target,
		RawText: s.RawText,
		Passed:  passed,
	}
}

func callNames(calls []llms.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = toolCallName(c)
	}
	return names
}
