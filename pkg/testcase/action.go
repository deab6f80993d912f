package testcase

import "fmt"

// ActionKind is the intent of a single test step.
type ActionKind string

const (
	ActionWait               ActionKind = "wait"
	ActionClosePopup         ActionKind = "close_popup"
	ActionCloseAd            ActionKind = "close_ad"
	ActionClick              ActionKind = "click"
	ActionClickByID          ActionKind = "click_by_id"
	ActionInputText          ActionKind = "input_text"
	ActionLongPress          ActionKind = "long_press"
	ActionSwipe              ActionKind = "swipe"
	ActionSwipeUp            ActionKind = "swipe_up"
	ActionSwipeDown          ActionKind = "swipe_down"
	ActionStartToastListener ActionKind = "start_toast_listener"
	ActionVerifyToast        ActionKind = "verify_toast"
	ActionScreenshot         ActionKind = "screenshot"
	ActionListElements       ActionKind = "list_elements"
	ActionAssertElement      ActionKind = "assert_element"
	ActionBack               ActionKind = "back"
	ActionHome               ActionKind = "home"
	ActionLaunchApp          ActionKind = "launch_app"
)

// defaultTools maps every action to the automation tool that performs it
// when nothing has failed yet.
var defaultTools = map[ActionKind]string{
	ActionWait:               "mobile_wait",
	ActionClosePopup:         "mobile_close_popup",
	ActionCloseAd:            "mobile_close_ad",
	ActionClick:              "mobile_click_by_text",
	ActionClickByID:          "mobile_click_by_id",
	ActionInputText:          "mobile_input_text_by_id",
	ActionLongPress:          "mobile_long_press_by_text",
	ActionSwipe:              "mobile_swipe",
	ActionSwipeUp:            "mobile_swipe",
	ActionSwipeDown:          "mobile_swipe",
	ActionStartToastListener: "mobile_start_toast_watch",
	ActionVerifyToast:        "mobile_get_toast",
	ActionScreenshot:         "mobile_take_screenshot",
	ActionListElements:       "mobile_list_elements",
	ActionAssertElement:      "mobile_list_elements",
	ActionBack:               "mobile_press_key",
	ActionHome:               "mobile_press_key",
	ActionLaunchApp:          "mobile_launch_app",
}

var allActions = []ActionKind{
	ActionWait, ActionClosePopup, ActionCloseAd, ActionClick, ActionClickByID,
	ActionInputText, ActionLongPress, ActionSwipe, ActionSwipeUp, ActionSwipeDown,
	ActionStartToastListener, ActionVerifyToast, ActionScreenshot,
	ActionListElements, ActionAssertElement, ActionBack, ActionHome, ActionLaunchApp,
}

// AllActions returns every declared action kind in a stable order.
func AllActions() []ActionKind {
	out := make([]ActionKind, len(allActions))
	copy(out, allActions)
	return out
}

// Valid reports whether a is a declared action kind.
func (a ActionKind) Valid() bool {
	_, ok := defaultTools[a]
	return ok
}

// DefaultTool returns the tool that performs a, or "" for unknown kinds.
func (a ActionKind) DefaultTool() string {
	return defaultTools[a]
}

func (a ActionKind) String() string {
	return string(a)
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown kinds.
func (a *ActionKind) UnmarshalText(text []byte) error {
	k := ActionKind(text)
	if !k.Valid() {
		return fmt.Errorf("unknown action %q", text)
	}
	*a = k
	return nil
}
