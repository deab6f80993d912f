package core

import "fmt"

// Phase is the coarse lifecycle position of a test run.
//
// Phases are totally ordered SETUP < EXECUTING < VERIFYING < {COMPLETED, FAILED}.
// A run advances one phase at a time or stays where it is. FAILED is the only
// phase reachable by skipping, from any non-terminal phase. Nothing leaves a
// terminal phase.
type Phase uint8

const (
	PhaseSetup     Phase = iota // Preconditions are being checked
	PhaseExecuting              // Steps are being driven one at a time
	PhaseVerifying              // Declared verification points are being judged
	PhaseCompleted              // Terminal: verification passed
	PhaseFailed                 // Terminal: any unrecoverable failure
)

// String returns the string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseExecuting:
		return "executing"
	case PhaseVerifying:
		return "verifying"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the phase is a final state
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Valid reports whether p is one of the declared phases.
func (p Phase) Valid() bool {
	return p <= PhaseFailed
}

// CanAdvanceTo reports whether a run in phase p may move to next.
// Staying in the same non-terminal phase is allowed; otherwise next must be
// the following phase or FAILED.
func (p Phase) CanAdvanceTo(next Phase) bool {
	if !p.Valid() || !next.Valid() || p.IsTerminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	if next == PhaseCompleted {
		return p == PhaseVerifying
	}
	return next == p || next == p+1
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid phase %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase converts a phase name back into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "setup":
		return PhaseSetup, nil
	case "executing":
		return PhaseExecuting, nil
	case "verifying":
		return PhaseVerifying, nil
	case "completed":
		return PhaseCompleted, nil
	case "failed":
		return PhaseFailed, nil
	}
	return PhaseSetup, fmt.Errorf("unknown phase %q", s)
}

// ErrorCategory classifies why a run failed
type ErrorCategory int

const (
	ErrCategoryNone              ErrorCategory = iota // No error
	ErrCategoryModel                                  // Model did not follow the protocol (no tool call, bad judgement)
	ErrCategoryToolExecution                          // Tool results kept reporting failure
	ErrCategoryPreconditionUnmet                      // A precondition was judged not satisfied
	ErrCategoryVerificationUnmet                      // A verification point was judged not satisfied
	ErrCategoryConfig                                 // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryModel:
		return "model"
	case ErrCategoryToolExecution:
		return "tool_execution"
	case ErrCategoryPreconditionUnmet:
		return "precondition_unmet"
	case ErrCategoryVerificationUnmet:
		return "verification_unmet"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ErrorCategory) UnmarshalText(text []byte) error {
	for cat := ErrCategoryNone; cat <= ErrCategoryConfig; cat++ {
		if cat.String() == string(text) {
			*c = cat
			return nil
		}
	}
	return fmt.Errorf("unknown error category %q", text)
}
