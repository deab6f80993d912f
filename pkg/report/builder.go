package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/testpilot/pkg/executor"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

// Meta carries run details that are not part of the execution state.
type Meta struct {
	RunID         string // generated when empty
	StartTime     time.Time
	EndTime       time.Time // zero while the run is still going
	RunnerVersion string
	Model         string
}

// Build creates the JSON report for tc at state. Steps the run never reached
// stay pending.
func Build(tc *testcase.TestCase, state executor.ExecutionState, meta Meta) *Report {
	runID := meta.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	r := &Report{
		Version:            Version,
		RunID:              runID,
		Name:               tc.Name,
		SourceFile:         tc.SourcePath,
		Status:             runStatus(state),
		Phase:              state.Phase,
		StartTime:          meta.StartTime,
		Device:             Device{Serial: tc.DeviceSerial},
		App:                App{ID: tc.AppPackage},
		Runner:             RunnerInfo{Version: meta.RunnerVersion, Model: meta.Model},
		Steps:              make([]StepEntry, len(tc.Steps)),
		Verifications:      make([]VerificationEntry, len(tc.Verifications)),
		VerificationPassed: state.VerificationPassed,
		Failure:            state.Failure,
	}
	if !meta.EndTime.IsZero() {
		end := meta.EndTime
		r.EndTime = &end
		if !meta.StartTime.IsZero() {
			ms := end.Sub(meta.StartTime).Milliseconds()
			r.Duration = &ms
		}
	}

	byIndex := make(map[int]executor.StepResult, len(state.StepResults))
	for _, res := range state.StepResults {
		if res.IsPrecondition() {
			r.Precondition = &StepEntry{
				Index:   res.Index,
				Action:  res.Action,
				RawText: res.RawText,
				Status:  resultStatus(res.Passed),
			}
			continue
		}
		byIndex[res.Index] = res
	}

	for i, step := range tc.Steps {
		entry := StepEntry{
			Index:    step.Index,
			Action:   string(step.Action),
			Target:   step.Target,
			RawText:  step.RawText,
			ToolHint: step.ToolHint,
			Status:   StatusPending,
		}
		if res, ok := byIndex[step.Index]; ok {
			entry.Status = resultStatus(res.Passed)
		}
		r.Steps[i] = entry
		r.Summary.Total++
		switch entry.Status {
		case StatusPassed:
			r.Summary.Passed++
		case StatusFailed:
			r.Summary.Failed++
		default:
			r.Summary.Pending++
		}
	}

	vStatus := StatusPending
	if state.Phase.IsTerminal() {
		vStatus = r.Status
	}
	for i, v := range tc.Verifications {
		r.Verifications[i] = VerificationEntry{Text: v, Status: vStatus}
	}
	return r
}

func runStatus(state executor.ExecutionState) Status {
	if !state.Phase.IsTerminal() {
		return StatusRunning
	}
	return resultStatus(state.Passed())
}

func resultStatus(passed bool) Status {
	if passed {
		return StatusPassed
	}
	return StatusFailed
}

// Restore rebuilds the test case and final state a saved report describes,
// so a saved run can be rendered again with Render. Only the fields the
// report keeps are restored.
func Restore(r *Report) (*testcase.TestCase, executor.ExecutionState) {
	tc := &testcase.TestCase{
		Name:          r.Name,
		Preconditions: []string{},
		Steps:         make([]testcase.TestStep, len(r.Steps)),
		Verifications: make([]string, len(r.Verifications)),
		AppPackage:    r.App.ID,
		DeviceSerial:  r.Device.Serial,
		SourcePath:    r.SourceFile,
	}
	state := executor.NewState()
	state.Phase = r.Phase
	state.VerificationPassed = r.VerificationPassed
	state.Failure = r.Failure

	if p := r.Precondition; p != nil {
		state.StepResults = append(state.StepResults, executor.StepResult{
			Index:   executor.PreconditionIndex,
			Action:  p.Action,
			RawText: p.RawText,
			Passed:  p.Status == StatusPassed,
		})
	}
	for i, s := range r.Steps {
		tc.Steps[i] = testcase.TestStep{
			Index:    s.Index,
			Action:   testcase.ActionKind(s.Action),
			RawText:  s.RawText,
			Target:   s.Target,
			ToolHint: s.ToolHint,
		}
		if s.Status == StatusPending {
			continue
		}
		state.StepResults = append(state.StepResults, executor.StepResult{
			Index:   s.Index,
			Action:  s.Action,
			Target:  s.Target,
			RawText: s.RawText,
			Passed:  s.Status == StatusPassed,
		})
	}
	for i, v := range r.Verifications {
		tc.Verifications[i] = v.Text
	}
	return tc, state
}
