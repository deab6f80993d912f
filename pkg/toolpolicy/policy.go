// Package toolpolicy decides which automation tools the model may call for a
// step and how a failing step degrades to a less precise interaction style.
//
// Everything here is static data. Groups are ordered from the most reliable
// and cheapest (element lookup) to the least reliable (coordinate grid), and
// a step only ever moves forward through that order.
package toolpolicy

import (
	"sort"

	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

// Group is one interaction paradigm: a set of tools sharing a strategy for
// locating UI elements.
type Group struct {
	Name  string
	Entry string // tool the model should call first when switching to this group
	Tools []string
}

const (
	GroupElements   = "elements"
	GroupSoM        = "som"
	GroupCoordinate = "coordinate"
)

var groups = []Group{
	{
		Name:  GroupElements,
		Entry: "mobile_list_elements",
		Tools: []string{
			"mobile_list_elements",
			"mobile_click_by_text",
			"mobile_click_by_id",
			"mobile_input_text_by_id",
			"mobile_long_press_by_text",
			"mobile_long_press_by_id",
		},
	},
	{
		Name:  GroupSoM,
		Entry: "mobile_screenshot_with_som",
		Tools: []string{
			"mobile_screenshot_with_som",
			"mobile_click_by_som",
		},
	},
	{
		Name:  GroupCoordinate,
		Entry: "mobile_screenshot_with_grid",
		Tools: []string{
			"mobile_screenshot_with_grid",
			"mobile_click_by_percent",
			"mobile_click_at_coords",
			"mobile_input_at_coords",
			"mobile_long_press_by_percent",
			"mobile_long_press_at_coords",
		},
	},
}

// utilityTools are offered alongside every group.
var utilityTools = []string{
	"mobile_wait",
	"mobile_launch_app",
	"mobile_terminate_app",
	"mobile_swipe",
	"mobile_press_key",
	"mobile_hide_keyboard",
	"mobile_close_popup",
	"mobile_close_ad",
	"mobile_find_close_button",
	"mobile_template_close",
	"mobile_assert_text",
	"mobile_start_toast_watch",
	"mobile_get_toast",
	"mobile_assert_toast",
	"mobile_take_screenshot",
	"mobile_get_screen_size",
}

// setupTools may be called while preconditions are checked.
var setupTools = []string{
	"mobile_list_apps",
	"mobile_list_devices",
	"mobile_list_elements",
	"mobile_terminate_app",
}

// fallbackActions locate a UI element and can therefore switch paradigm.
var fallbackActions = map[testcase.ActionKind]bool{
	testcase.ActionClick:         true,
	testcase.ActionClickByID:     true,
	testcase.ActionInputText:     true,
	testcase.ActionLongPress:     true,
	testcase.ActionAssertElement: true,
}

// Groups returns the paradigm groups in priority order.
func Groups() []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		g.Tools = append([]string(nil), g.Tools...)
		out[i] = g
	}
	return out
}

// UtilityTools returns the always-on tools in sorted order.
func UtilityTools() []string {
	return sorted(utilityTools)
}

// SetupTools returns the tools allowed while preconditions are checked.
func SetupTools() []string {
	return sorted(setupTools)
}

// SupportsFallback reports whether action can degrade to another paradigm.
func SupportsFallback(action testcase.ActionKind) bool {
	return fallbackActions[action]
}

// MaxPriority returns the number of paradigm levels available to action.
func MaxPriority(action testcase.ActionKind) int {
	if SupportsFallback(action) {
		return len(groups)
	}
	return 1
}

// GroupNameAt returns the name of the group at idx.
func GroupNameAt(idx int) (string, bool) {
	if idx < 0 || idx >= len(groups) {
		return "", false
	}
	return groups[idx].Name, true
}

// clamp keeps idx inside the group list.
func clamp(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx >= len(groups) {
		return len(groups) - 1
	}
	return idx
}

// ToolsForStep returns the sorted tool names offered for a step of the given
// action at paradigm level idx. Non-fallback actions get only their default
// tool; fallback actions get the group at idx (clamped) plus utility tools.
func ToolsForStep(action testcase.ActionKind, idx int) []string {
	if !SupportsFallback(action) {
		if tool := action.DefaultTool(); tool != "" {
			return []string{tool}
		}
		return nil
	}

	set := make(map[string]struct{}, len(utilityTools)+8)
	for _, t := range groups[clamp(idx)].Tools {
		set[t] = struct{}{}
	}
	for _, t := range utilityTools {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ResolveHint returns the tool an instruction should name for a step at
// paradigm level idx: the action's default tool before any degradation, the
// degraded group's entry tool afterwards.
func ResolveHint(action testcase.ActionKind, idx int) string {
	if idx <= 0 || !SupportsFallback(action) {
		return action.DefaultTool()
	}
	return groups[clamp(idx)].Entry
}

// Allowed reports whether tool is in the offer for action at idx.
func Allowed(action testcase.ActionKind, idx int, tool string) bool {
	for _, t := range ToolsForStep(action, idx) {
		if t == tool {
			return true
		}
	}
	return false
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
