// Package report renders the outcome of a test run.
//
// Two forms are produced from the same final state:
//   - a deterministic text report, suitable as the model's closing message
//   - report.json, a machine-readable record written next to the logs
//
// PrintTable renders a saved report for terminals.
package report

import (
	"time"

	"github.com/devicelab-dev/testpilot/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the status of a run or a step.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed
}

// Report is the JSON record of one run (report.json).
type Report struct {
	Version            string               `json:"version"`
	RunID              string               `json:"runId"`
	Name               string               `json:"name"`
	SourceFile         string               `json:"sourceFile,omitempty"`
	Status             Status               `json:"status"`
	Phase              core.Phase           `json:"phase"`
	StartTime          time.Time            `json:"startTime"`
	EndTime            *time.Time           `json:"endTime,omitempty"`
	Duration           *int64               `json:"duration,omitempty"` // milliseconds
	Device             Device               `json:"device"`
	App                App                  `json:"app"`
	Runner             RunnerInfo           `json:"runner"`
	Summary            Summary              `json:"summary"`
	Precondition       *StepEntry           `json:"precondition,omitempty"`
	Steps              []StepEntry          `json:"steps"`
	Verifications      []VerificationEntry  `json:"verifications"`
	VerificationPassed bool                 `json:"verificationPassed"`
	Failure            *core.ExecutionError `json:"failure,omitempty"`
}

// Device contains device information.
type Device struct {
	Serial string `json:"serial,omitempty"`
}

// App contains application information.
type App struct {
	ID string `json:"id,omitempty"` // package name
}

// RunnerInfo describes the binary and model that produced the run.
type RunnerInfo struct {
	Version string `json:"version,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Summary contains aggregated step counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// StepEntry is one step of the test case and how it ended.
type StepEntry struct {
	Index    int    `json:"index"` // 1-based; -1 for the precondition check
	Action   string `json:"action"`
	Target   string `json:"target,omitempty"`
	RawText  string `json:"rawText"`
	ToolHint string `json:"toolHint,omitempty"`
	Status   Status `json:"status"`
}

// VerificationEntry is one declared verification point.
type VerificationEntry struct {
	Text   string `json:"text"`
	Status Status `json:"status"`
}
