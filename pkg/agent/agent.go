// Package agent is a reference runtime for the execution state machine.
//
// It owns the conversation: each turn it asks the machine for a call plan,
// calls the model with the offered tools, hands the reply back to the
// machine and either runs the model's tool call or follows the machine's
// jump.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/executor"
	"github.com/devicelab-dev/testpilot/pkg/logger"
	"github.com/devicelab-dev/testpilot/pkg/report"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

//go:generate mockgen -destination=mock_tool_executor_test.go -package=agent . ToolExecutor

// ToolExecutor runs a named device tool with JSON arguments and returns its
// textual output.
type ToolExecutor interface {
	Execute(ctx context.Context, name, argsJSON string) (string, error)
}

// DefaultMaxTurns bounds a run when Runner.MaxTurns is zero.
const DefaultMaxTurns = 60

// ErrTurnLimit is returned when a run hits MaxTurns before finishing.
var ErrTurnLimit = errors.New("turn limit reached before the run finished")

// Runner drives test cases against a model and a device.
type Runner struct {
	Model llms.Model
	Tools ToolExecutor
	// Available are the tool definitions the device exposes. Each turn only
	// the subset offered by the state machine is sent to the model.
	Available []llms.Tool
	// BasePrompt is the runtime system prompt. Empty uses the default
	// prompt built from the test case.
	BasePrompt string
	MaxTurns   int
	Options    executor.Options
	Middleware Middleware
	// ModelName and Version are recorded in reports.
	ModelName string
	Version   string
}

// Result is the outcome of one run.
type Result struct {
	RunID     string
	TestCase  *testcase.TestCase
	State     executor.ExecutionState
	Messages  []llms.MessageContent
	Turns     int
	StartTime time.Time
	EndTime   time.Time
	// Text is the rendered text report.
	Text string

	model   string
	version string
}

// Passed reports whether the run completed with its verifications met.
func (r *Result) Passed() bool {
	return r.State.Passed()
}

// Report builds the JSON report of the run.
func (r *Result) Report() *report.Report {
	return report.Build(r.TestCase, r.State, report.Meta{
		RunID:         r.RunID,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		RunnerVersion: r.version,
		Model:         r.model,
	})
}

// Run executes tc to completion, cancellation or the turn limit. The partial
// result is returned alongside any error.
func (r *Runner) Run(ctx context.Context, tc *testcase.TestCase) (*Result, error) {
	return r.run(ctx, tc, uuid.NewString())
}

func (r *Runner) run(ctx context.Context, tc *testcase.TestCase, runID string) (*Result, error) {
	if r.Model == nil || r.Tools == nil {
		return nil, fmt.Errorf("runner needs a model and a tool executor")
	}

	m := executor.New(tc, r.Options)
	base := r.BasePrompt
	if base == "" {
		base = executor.BasePrompt(tc)
	}
	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	res := &Result{
		RunID:     runID,
		TestCase:  tc,
		State:     executor.NewState(),
		StartTime: time.Now(),
		model:     r.ModelName,
		version:   r.Version,
	}
	res.Messages = []llms.MessageContent{textMessage(llms.ChatMessageTypeHuman,
		fmt.Sprintf("Execute the test case %q.", tc.Name))}

	log := logger.With("run", runID)
	log.Info("run started", "test", tc.Name, "steps", len(tc.Steps))

	finish := func(err error) (*Result, error) {
		res.EndTime = time.Now()
		res.Text = report.Render(tc, res.State)
		log.Info("run finished", "phase", res.State.Phase, "passed", res.Passed(), "turns", res.Turns, "err", err)
		return res, err
	}

	for !res.State.Phase.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		if res.Turns >= maxTurns {
			return finish(ErrTurnLimit)
		}
		res.Turns++

		plan := m.BeforeModelCall(res.State)
		offered := plan.FilterTools(r.Available)
		call := make([]llms.MessageContent, 0, len(res.Messages)+1)
		system := plan.SystemPrompt(base)
		if r.screenshotHeavy(res.Messages) {
			log.Info("recent turns are screenshot-heavy, adding list_elements hint")
			system += "\n\n" + screenshotHint
		}
		call = append(call, textMessage(llms.ChatMessageTypeSystem, system))
		call = append(call, res.Messages...)

		var opts []llms.CallOption
		if len(offered) > 0 {
			opts = append(opts, llms.WithTools(offered))
		}
		resp, err := r.Model.GenerateContent(ctx, call, opts...)
		if err != nil {
			return finish(fmt.Errorf("model call: %w", err))
		}
		if resp == nil || len(resp.Choices) == 0 {
			return finish(fmt.Errorf("model call: empty response"))
		}
		res.Messages = append(res.Messages, modelMessage(resp.Choices[0]))

		d := m.AfterModelCall(res.State, res.Messages)
		if d != nil {
			if d.ModelMessage != nil {
				res.Messages[len(res.Messages)-1] = *d.ModelMessage
			}
			res.Messages = append(res.Messages, d.Messages...)
			res.State = d.Apply(res.State)
		}

		switch d.JumpTarget() {
		case executor.JumpToEnd:
			return finish(nil)
		case executor.JumpToModel:
			continue
		}

		if err := r.runTools(ctx, log, res, plan); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}

// runTools executes the tool calls of the newest model message and appends
// their results. When parallel calls are forbidden only the first call runs
// and the model message is trimmed to match.
func (r *Runner) runTools(ctx context.Context, log *log.Logger, res *Result, plan executor.CallPlan) error {
	last := len(res.Messages) - 1
	calls := executor.ToolCalls(res.Messages[last])
	if len(calls) == 0 {
		return nil
	}
	if plan.ForbidParallelToolCalls && len(calls) > 1 {
		logger.Warn("model issued %d tool calls, running only the first", len(calls))
		calls = calls[:1]
		res.Messages[last] = keepFirstCall(res.Messages[last])
	}

	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := ""
		args := "{}"
		if tc.FunctionCall != nil {
			name = tc.FunctionCall.Name
			if tc.FunctionCall.Arguments != "" {
				args = tc.FunctionCall.Arguments
			}
		}

		var out string
		if !plan.AllowsTool(name) {
			out = fmt.Sprintf("error: tool %s is not available in this phase", name)
		} else {
			logger.Debug("executing tool %s %s", name, args)
			out = r.execTool(ctx, log, name, args)
		}
		res.Messages = append(res.Messages, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: tc.ID,
				Name:       name,
				Content:    out,
			}},
		})
	}
	return nil
}

func textMessage(role llms.ChatMessageType, text string) llms.MessageContent {
	return llms.MessageContent{Role: role, Parts: []llms.ContentPart{llms.TextPart(text)}}
}

func modelMessage(choice *llms.ContentChoice) llms.MessageContent {
	var parts []llms.ContentPart
	if choice.Content != "" {
		parts = append(parts, llms.TextContent{Text: choice.Content})
	}
	for _, tc := range choice.ToolCalls {
		parts = append(parts, tc)
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

// keepFirstCall drops every tool call after the first from msg.
func keepFirstCall(msg llms.MessageContent) llms.MessageContent {
	parts := make([]llms.ContentPart, 0, len(msg.Parts))
	seen := false
	for _, p := range msg.Parts {
		if _, ok := p.(llms.ToolCall); ok {
			if seen {
				continue
			}
			seen = true
		}
		parts = append(parts, p)
	}
	return llms.MessageContent{Role: msg.Role, Parts: parts}
}
