// Package testcase turns free-form test case text into typed steps.
package testcase

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultName is used when the text carries no test name label.
const DefaultName = "Untitled test"

// TestStep is one numbered instruction of a test case.
type TestStep struct {
	Index    int            `yaml:"index" json:"index"` // 1-based
	Action   ActionKind     `yaml:"action" json:"action"`
	RawText  string         `yaml:"rawText" json:"raw_text"`
	Target   string         `yaml:"target,omitempty" json:"target,omitempty"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	ToolHint string         `yaml:"toolHint" json:"tool_hint"`
}

// Describe returns a short human label such as `click "Login"`.
func (s TestStep) Describe() string {
	if s.Target != "" {
		return fmt.Sprintf("%s %q", s.Action, s.Target)
	}
	return string(s.Action)
}

// Param returns a parameter as a string, or "" if absent.
func (s TestStep) Param(key string) string {
	v, ok := s.Params[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// TestCase is an immutable, parsed test case. One test case drives one run.
type TestCase struct {
	Name          string     `yaml:"name" json:"name"`
	Preconditions []string   `yaml:"preconditions" json:"preconditions"`
	Steps         []TestStep `yaml:"steps" json:"steps"`
	Verifications []string   `yaml:"verifications" json:"verifications"`
	AppPackage    string     `yaml:"appPackage,omitempty" json:"app_package,omitempty"`
	DeviceSerial  string     `yaml:"deviceSerial,omitempty" json:"device_serial,omitempty"`
	SourcePath    string     `yaml:"-" json:"-"`
}

// Step returns the step at the 0-based position i.
func (tc *TestCase) Step(i int) (TestStep, bool) {
	if i < 0 || i >= len(tc.Steps) {
		return TestStep{}, false
	}
	return tc.Steps[i], true
}

// Describe renders the test case as indented text for terminal output.
func (tc *TestCase) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test: %s\n", tc.Name)
	if tc.AppPackage != "" {
		fmt.Fprintf(&b, "App: %s\n", tc.AppPackage)
	}
	if tc.DeviceSerial != "" {
		fmt.Fprintf(&b, "Device: %s\n", tc.DeviceSerial)
	}
	if len(tc.Preconditions) > 0 {
		b.WriteString("Preconditions:\n")
		for _, p := range tc.Preconditions {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	b.WriteString("Steps:\n")
	if len(tc.Steps) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, s := range tc.Steps {
		fmt.Fprintf(&b, "  %d. %s  [%s -> %s]", s.Index, s.RawText, s.Action, s.ToolHint)
		if len(s.Params) > 0 {
			keys := make([]string, 0, len(s.Params))
			for k := range s.Params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%v", k, s.Params[k]))
			}
			fmt.Fprintf(&b, " {%s}", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	if len(tc.Verifications) > 0 {
		b.WriteString("Verifications:\n")
		for _, v := range tc.Verifications {
			fmt.Fprintf(&b, "  - %s\n", v)
		}
	}
	return b.String()
}
