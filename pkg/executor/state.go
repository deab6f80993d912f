package executor

import (
	"fmt"

	"github.com/devicelab-dev/testpilot/pkg/core"
)

// PreconditionIndex marks the synthetic result recorded for the setup check.
const PreconditionIndex = -1

// PreconditionAction is the action label of the synthetic setup result.
const PreconditionAction = "precondition_check"

// StepResult records how one step concluded.
type StepResult struct {
	Index   int    `json:"index"` // 1-based step index, or PreconditionIndex
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
	RawText string `json:"raw_text"`
	Passed  bool   `json:"passed"`
}

// IsPrecondition reports whether r is the synthetic setup entry.
func (r StepResult) IsPrecondition() bool {
	return r.Index == PreconditionIndex
}

// ExecutionState is the run state threaded through every model turn.
//
// Values are treated as immutable: transitions build a new state and the
// results slice is copied before it grows, so a state handed to a caller is
// never changed behind its back.
type ExecutionState struct {
	Phase              core.Phase           `json:"phase"`
	StepIndex          int                  `json:"step_index"` // 0-based cursor into the steps
	StepRetryCount     int                  `json:"step_retry_count"`
	ToolPriorityIdx    int                  `json:"tool_priority_idx"`
	StepResults        []StepResult         `json:"step_results"`
	VerificationPassed bool                 `json:"verification_passed"`
	Failure            *core.ExecutionError `json:"failure,omitempty"`
}

// NewState returns the state a run starts in.
func NewState() ExecutionState {
	return ExecutionState{
		Phase:       core.PhaseSetup,
		StepResults: []StepResult{},
	}
}

// Passed reports whether the run ended successfully.
func (s ExecutionState) Passed() bool {
	return s.Phase == core.PhaseCompleted && s.VerificationPassed
}

// PassedCount returns the number of real steps that passed.
func (s ExecutionState) PassedCount() int {
	n := 0
	for _, r := range s.StepResults {
		if r.Passed && !r.IsPrecondition() {
			n++
		}
	}
	return n
}

func (s ExecutionState) clone() ExecutionState {
	c := s
	c.StepResults = make([]StepResult, len(s.StepResults))
	copy(c.StepResults, s.StepResults)
	return c
}

// moveTo returns the successor state at phase and step index. Counters are
// reset whenever the phase or the step changes. Backward moves are refused.
func (s ExecutionState) moveTo(phase core.Phase, index int) (ExecutionState, error) {
	if phase == s.Phase {
		if s.Phase.IsTerminal() {
			return s, fmt.Errorf("run already %s", s.Phase)
		}
	} else if !s.Phase.CanAdvanceTo(phase) {
		return s, fmt.Errorf("illegal transition %s -> %s", s.Phase, phase)
	}
	if s.Phase == core.PhaseExecuting && phase == core.PhaseExecuting && index < s.StepIndex {
		return s, fmt.Errorf("step index cannot move back from %d to %d", s.StepIndex, index)
	}
	if s.Phase != core.PhaseExecuting && phase != core.PhaseExecuting {
		// The cursor is frozen outside EXECUTING.
		index = s.StepIndex
	}

	n := s.clone()
	if phase != s.Phase || index != s.StepIndex {
		n.StepRetryCount = 0
		n.ToolPriorityIdx = 0
	}
	n.Phase = phase
	n.StepIndex = index
	return n, nil
}

// retried returns a copy with the retry counter bumped.
func (s ExecutionState) retried() ExecutionState {
	n := s.clone()
	n.StepRetryCount++
	return n
}

// degraded returns a copy at the next paradigm level.
func (s ExecutionState) degraded() ExecutionState {
	n := s.clone()
	n.ToolPriorityIdx++
	n.StepRetryCount = 0
	return n
}

// withResult returns a copy with r appended.
func (s ExecutionState) withResult(r StepResult) ExecutionState {
	n := s.clone()
	n.StepResults = append(n.StepResults, r)
	return n
}
