package executor

import (
	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/core"
)

// Hooks is called by the agent runtime exactly once per model turn, never
// concurrently for the same run.
type Hooks interface {
	// BeforeModelCall returns the instruction and tool offer for the next
	// model call.
	BeforeModelCall(state ExecutionState) CallPlan
	// AfterModelCall inspects the conversation after the model answered. A
	// nil delta means the runtime should execute the model's tool calls
	// unmodified.
	AfterModelCall(state ExecutionState, messages []llms.MessageContent) *Delta
}

// instructionHeader separates the runtime's own system prompt from the
// per-turn instruction.
const instructionHeader = "\n\n---\n\n# Current instruction\n\n"

// CallPlan describes the next model call.
type CallPlan struct {
	Phase       core.Phase
	Instruction string
	// Tools lists the tool names the model may call. Empty means none.
	Tools []string
	// ForbidParallelToolCalls is always set: the model must issue at most
	// one tool call per turn.
	ForbidParallelToolCalls bool
}

// SystemPrompt appends the instruction to the runtime's base prompt.
func (p CallPlan) SystemPrompt(base string) string {
	if p.Instruction == "" {
		return base
	}
	return base + instructionHeader + p.Instruction
}

// AllowsTool reports whether name is offered this turn.
func (p CallPlan) AllowsTool(name string) bool {
	for _, t := range p.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// FilterTools keeps the available tool definitions offered by the plan,
// preserving their order.
func (p CallPlan) FilterTools(available []llms.Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(p.Tools))
	for _, t := range available {
		if t.Function != nil && p.AllowsTool(t.Function.Name) {
			out = append(out, t)
		}
	}
	return out
}

// Jump tells the runtime where to continue after AfterModelCall.
type Jump uint8

const (
	JumpNone    Jump = iota // continue normally: run the model's tool calls
	JumpToModel             // call the model again right away
	JumpToEnd               // stop the run
)

func (j Jump) String() string {
	switch j {
	case JumpNone:
		return "none"
	case JumpToModel:
		return "model"
	case JumpToEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Delta is the outcome of AfterModelCall.
type Delta struct {
	// State is the successor state, or nil when the state is unchanged.
	State *ExecutionState
	Jump  Jump
	// Messages are synthetic instructions to append before the next model
	// call. At most one is ever produced.
	Messages []llms.MessageContent
	// ModelMessage replaces the model's last message when duplicate tool
	// calls were dropped from it.
	ModelMessage *llms.MessageContent
}

// Apply returns the state after d. A nil delta leaves s as is.
func (d *Delta) Apply(s ExecutionState) ExecutionState {
	if d == nil || d.State == nil {
		return s
	}
	return *d.State
}

// JumpTarget returns d's jump, treating a nil delta as JumpNone.
func (d *Delta) JumpTarget() Jump {
	if d == nil {
		return JumpNone
	}
	return d.Jump
}
