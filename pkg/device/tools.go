package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/logger"
)

const (
	dumpPath       = "/sdcard/window_dump.xml"
	longPressMs    = 1000
	swipeMs        = 300
	maxWaitSeconds = 60
)

// closeLabels are the texts popup and ad close buttons commonly carry.
var closeLabels = []string{"关闭", "跳过", "取消", "以后再说", "我知道了", "Close", "Skip", "Cancel", "Not now", "×", "X"}

// keyCodes maps key names to Android key events.
var keyCodes = map[string]int{
	"back":   4,
	"home":   3,
	"enter":  66,
	"menu":   82,
	"delete": 67,
	"escape": 111,
	"search": 84,
}

// args is the union of every tool's JSON arguments.
type args struct {
	Package   string  `json:"package"`
	Text      string  `json:"text"`
	ID        string  `json:"resource_id"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	XPercent  float64 `json:"x_percent"`
	YPercent  float64 `json:"y_percent"`
	Seconds   float64 `json:"seconds"`
	Direction string  `json:"direction"`
	Key       string  `json:"key"`
}

type tool struct {
	description string
	params      map[string]any
	required    []string
	run         func(ctx context.Context, t *Tools, a args) (string, error)
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
func num(desc string) map[string]any { return map[string]any{"type": "number", "description": desc} }

var (
	pkgParam  = map[string]any{"package": str("Android package name")}
	textParam = map[string]any{"text": str("Visible text or content description")}
	idParam   = map[string]any{"resource_id": str("Resource id, with or without the package prefix")}
	xyParam   = map[string]any{"x": num("X in pixels"), "y": num("Y in pixels")}
	pctParam  = map[string]any{"x_percent": num("X as a percentage of screen width"), "y_percent": num("Y as a percentage of screen height")}
)

func merge(ms ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// tools are the device tools this package implements over adb.
var tools = map[string]tool{
	"mobile_list_devices": {
		description: "List connected Android devices",
		run: func(ctx context.Context, t *Tools, _ args) (string, error) {
			entries, err := t.dev.devices(ctx)
			if err != nil {
				return "", err
			}
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				lines = append(lines, e.Serial+" "+e.State)
			}
			return strings.Join(lines, "\n"), nil
		},
	},
	"mobile_list_apps": {
		description: "List installed third-party packages",
		run: func(ctx context.Context, t *Tools, _ args) (string, error) {
			out, err := t.dev.Shell(ctx, "pm list packages -3")
			if err != nil {
				return "", err
			}
			var pkgs []string
			for _, line := range strings.Split(out, "\n") {
				if p := strings.TrimPrefix(strings.TrimSpace(line), "package:"); p != "" {
					pkgs = append(pkgs, p)
				}
			}
			sort.Strings(pkgs)
			return strings.Join(pkgs, "\n"), nil
		},
	},
	"mobile_launch_app": {
		description: "Launch an app by package name",
		params:      pkgParam,
		required:    []string{"package"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			if _, err := t.dev.Shell(ctx, "monkey -p "+shellQuote(a.Package)+" -c android.intent.category.LAUNCHER 1"); err != nil {
				return "", err
			}
			return "launched " + a.Package, nil
		},
	},
	"mobile_terminate_app": {
		description: "Force-stop an app by package name",
		params:      pkgParam,
		required:    []string{"package"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			if _, err := t.dev.Shell(ctx, "am force-stop "+shellQuote(a.Package)); err != nil {
				return "", err
			}
			return "terminated " + a.Package, nil
		},
	},
	"mobile_list_elements": {
		description: "List the labelled UI elements on screen with their bounds",
		run: func(ctx context.Context, t *Tools, _ args) (string, error) {
			elements, err := t.dump(ctx)
			if err != nil {
				return "", err
			}
			var b strings.Builder
			for i, e := range Labelled(elements) {
				fmt.Fprintf(&b, "[%d] text=%q id=%q class=%s bounds=%s clickable=%t\n",
					i, e.Label(), e.ResourceID, e.ClassName, e.Bounds, e.Clickable)
			}
			if b.Len() == 0 {
				return "no labelled elements on screen", nil
			}
			return strings.TrimSuffix(b.String(), "\n"), nil
		},
	},
	"mobile_click_by_text": {
		description: "Tap the element showing the given text",
		params:      textParam,
		required:    []string{"text"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			return t.onElement(ctx, "text", a.Text, t.tap)
		},
	},
	"mobile_click_by_id": {
		description: "Tap the element with the given resource id",
		params:      idParam,
		required:    []string{"resource_id"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			return t.onElement(ctx, "id", a.ID, t.tap)
		},
	},
	"mobile_long_press_by_text": {
		description: "Long-press the element showing the given text",
		params:      textParam,
		required:    []string{"text"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			return t.onElement(ctx, "text", a.Text, t.longPress)
		},
	},
	"mobile_long_press_by_id": {
		description: "Long-press the element with the given resource id",
		params:      idParam,
		required:    []string{"resource_id"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			return t.onElement(ctx, "id", a.ID, t.longPress)
		},
	},
	"mobile_input_text_by_id": {
		description: "Focus the field with the given resource id and type text",
		params:      merge(idParam, map[string]any{"text": str("Text to type")}),
		required:    []string{"resource_id", "text"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			return t.onElement(ctx, "id", a.ID, func(ctx context.Context, x, y int) error {
				if err := t.tap(ctx, x, y); err != nil {
					return err
				}
				return t.inputText(ctx, a.Text)
			})
		},
	},
	"mobile_click_at_coords": {
		description: "Tap a screen position in pixels",
		params:      xyParam,
		required:    []string{"x", "y"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			return tapped(a.X, a.Y), t.tap(ctx, a.X, a.Y)
		},
	},
	"mobile_long_press_at_coords": {
		description: "Long-press a screen position in pixels",
		params:      xyParam,
		required:    []string{"x", "y"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			return tapped(a.X, a.Y), t.longPress(ctx, a.X, a.Y)
		},
	},
	"mobile_input_at_coords": {
		description: "Tap a screen position and type text",
		params:      merge(xyParam, map[string]any{"text": str("Text to type")}),
		required:    []string{"x", "y", "text"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			if err := t.tap(ctx, a.X, a.Y); err != nil {
				return "", err
			}
			return "typed " + strconv.Quote(a.Text), t.inputText(ctx, a.Text)
		},
	},
	"mobile_click_by_percent": {
		description: "Tap a screen position given as percentages",
		params:      pctParam,
		required:    []string{"x_percent", "y_percent"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			x, y, err := t.percent(ctx, a.XPercent, a.YPercent)
			if err != nil {
				return "", err
			}
			return tapped(x, y), t.tap(ctx, x, y)
		},
	},
	"mobile_long_press_by_percent": {
		description: "Long-press a screen position given as percentages",
		params:      pctParam,
		required:    []string{"x_percent", "y_percent"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			x, y, err := t.percent(ctx, a.XPercent, a.YPercent)
			if err != nil {
				return "", err
			}
			return tapped(x, y), t.longPress(ctx, x, y)
		},
	},
	"mobile_swipe": {
		description: "Swipe the screen in a direction",
		params:      map[string]any{"direction": map[string]any{"type": "string", "enum": []string{"up", "down", "left", "right"}}},
		required:    []string{"direction"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			w, h, err := t.screenSize(ctx)
			if err != nil {
				return "", err
			}
			x1, y1, x2, y2, err := swipeLine(a.Direction, w, h)
			if err != nil {
				return "", err
			}
			cmd := fmt.Sprintf("input swipe %d %d %d %d %d", x1, y1, x2, y2, swipeMs)
			if _, err := t.dev.Shell(ctx, cmd); err != nil {
				return "", err
			}
			return "swiped " + a.Direction, nil
		},
	},
	"mobile_press_key": {
		description: "Press a hardware key (back, home, enter, menu, delete) or a numeric key code",
		params:      map[string]any{"key": str("Key name or code")},
		required:    []string{"key"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			code, err := keyCode(a.Key)
			if err != nil {
				return "", err
			}
			if _, err := t.dev.Shell(ctx, "input keyevent "+strconv.Itoa(code)); err != nil {
				return "", err
			}
			return "pressed " + a.Key, nil
		},
	},
	"mobile_hide_keyboard": {
		description: "Dismiss the soft keyboard",
		run: func(ctx context.Context, t *Tools, _ args) (string, error) {
			if _, err := t.dev.Shell(ctx, "input keyevent "+strconv.Itoa(keyCodes["escape"])); err != nil {
				return "", err
			}
			return "keyboard hidden", nil
		},
	},
	"mobile_wait": {
		description: "Wait for a number of seconds",
		params:      map[string]any{"seconds": num("Seconds to wait")},
		required:    []string{"seconds"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			s := a.Seconds
			if s < 0 {
				s = 0
			}
			if s > maxWaitSeconds {
				s = maxWaitSeconds
			}
			if err := t.sleep(ctx, time.Duration(s*float64(time.Second))); err != nil {
				return "", err
			}
			return fmt.Sprintf("waited %gs", s), nil
		},
	},
	"mobile_close_popup": {
		description: "Close a popup or dialog covering the screen",
		run:         closeSomething,
	},
	"mobile_close_ad": {
		description: "Close or skip an advertisement",
		run:         closeSomething,
	},
	"mobile_find_close_button": {
		description: "Find a close or skip button and report its position without tapping",
		run: func(ctx context.Context, t *Tools, _ args) (string, error) {
			e, err := t.findClose(ctx)
			if err != nil {
				return "", err
			}
			x, y := e.Bounds.Center()
			return fmt.Sprintf("close button %q at (%d, %d)", e.Label(), x, y), nil
		},
	},
	"mobile_assert_text": {
		description: "Check that the given text is visible on screen",
		params:      textParam,
		required:    []string{"text"},
		run: func(ctx context.Context, t *Tools, a args) (string, error) {
			elements, err := t.dump(ctx)
			if err != nil {
				return "", err
			}
			if FindByText(elements, a.Text) == nil {
				return "", fmt.Errorf("text %q not found on screen", a.Text)
			}
			return fmt.Sprintf("text %q is visible", a.Text), nil
		},
	},
	"mobile_get_screen_size": {
		description: "Return the screen size in pixels",
		run: func(ctx context.Context, t *Tools, _ args) (string, error) {
			w, h, err := t.screenSize(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%dx%d", w, h), nil
		},
	},
	"mobile_take_screenshot": {
		description: "Save a screenshot and return its path",
		run: func(ctx context.Context, t *Tools, _ args) (string, error) {
			path, err := t.screenshot(ctx)
			if err != nil {
				return "", err
			}
			return "screenshot saved to " + path, nil
		},
	},
	"mobile_screenshot_with_grid": {
		description: "Save a screenshot and report the screen size for percentage taps",
		run: func(ctx context.Context, t *Tools, _ args) (string, error) {
			w, h, err := t.screenSize(ctx)
			if err != nil {
				return "", err
			}
			path, err := t.screenshot(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("screenshot saved to %s\nscreen %dx%d; (0,0) is top-left, (100,100) is bottom-right. "+
				"Tap with mobile_click_by_percent or mobile_click_at_coords.", path, w, h), nil
		},
	},
	"mobile_screenshot_with_som": {
		description: "Screenshot with numbered marks over interactive elements",
		run:         unsupported("mobile_screenshot_with_som"),
	},
	"mobile_click_by_som": {
		description: "Tap the element carrying a numbered mark",
		params:      map[string]any{"mark": num("Mark number from mobile_screenshot_with_som")},
		required:    []string{"mark"},
		run:         unsupported("mobile_click_by_som"),
	},
	"mobile_template_close": {
		description: "Close a popup by matching known close-button images",
		run:         unsupported("mobile_template_close"),
	},
	"mobile_start_toast_watch": {
		description: "Start capturing toast messages",
		run:         unsupported("mobile_start_toast_watch"),
	},
	"mobile_get_toast": {
		description: "Return the toast messages captured since the watch started",
		run:         unsupported("mobile_get_toast"),
	},
	"mobile_assert_toast": {
		description: "Check that a captured toast contains the given text",
		params:      map[string]any{"text": str("Expected toast text")},
		required:    []string{"text"},
		run:         unsupported("mobile_assert_toast"),
	},
}

// unsupported is the run of a tool adb cannot perform. Its error reaches the
// model as a failed tool result so element-locating steps move on to the
// next paradigm.
func unsupported(name string) func(context.Context, *Tools, args) (string, error) {
	return func(context.Context, *Tools, args) (string, error) {
		return "", fmt.Errorf("%s is not available over adb: %w", name, errors.ErrUnsupported)
	}
}

// Tools runs mobile_* tools against an Android device.
type Tools struct {
	dev *AndroidDevice
	// ScreenshotDir receives mobile_take_screenshot output. Empty uses the
	// system temp dir.
	ScreenshotDir string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewTools returns a tool executor for dev.
func NewTools(dev *AndroidDevice) *Tools {
	return &Tools{dev: dev, sleep: sleepCtx, now: time.Now}
}

// Execute runs the named tool with its JSON arguments.
func (t *Tools) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	spec, ok := tools[name]
	if !ok {
		return "", fmt.Errorf("tool %s is not supported on %s: %w", name, t.dev.serial, errors.ErrUnsupported)
	}
	var a args
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}
	logger.Debug("device %s: %s %s", t.dev.serial, name, argsJSON)
	out, err := spec.run(ctx, t, a)
	if err != nil {
		logger.Warn("device %s: %s failed: %v", t.dev.serial, name, err)
		return "", err
	}
	return out, nil
}

// Definitions returns the model-facing definitions of every tool this
// package implements, sorted by name.
func Definitions() []llms.Tool {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llms.Tool, 0, len(names))
	for _, name := range names {
		spec := tools[name]
		props := spec.params
		if props == nil {
			props = map[string]any{}
		}
		params := map[string]any{"type": "object", "properties": props}
		if len(spec.required) > 0 {
			params["required"] = spec.required
		}
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        name,
				Description: spec.description,
				Parameters:  params,
			},
		})
	}
	return defs
}

// screenshot saves a PNG of the screen under ScreenshotDir and returns its
// path.
func (t *Tools) screenshot(ctx context.Context) (string, error) {
	png, err := t.dev.adbRaw(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return "", err
	}
	dir := t.ScreenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.png", t.dev.serial, t.now().UnixMilli()))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// dump captures the current UI hierarchy.
func (t *Tools) dump(ctx context.Context) ([]*Element, error) {
	if _, err := t.dev.Shell(ctx, "uiautomator dump "+dumpPath); err != nil {
		return nil, err
	}
	out, err := t.dev.Shell(ctx, "cat "+dumpPath)
	if err != nil {
		return nil, err
	}
	return ParseHierarchy(out)
}

// onElement finds an element by text or id and calls act at its center.
func (t *Tools) onElement(ctx context.Context, by, value string, act func(ctx context.Context, x, y int) error) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%s must not be empty", by)
	}
	elements, err := t.dump(ctx)
	if err != nil {
		return "", err
	}
	var e *Element
	if by == "id" {
		e = FindByID(elements, value)
	} else {
		e = FindByText(elements, value)
	}
	if e == nil {
		return "", fmt.Errorf("no element with %s %q", by, value)
	}
	x, y := e.Bounds.Center()
	if err := act(ctx, x, y); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s %q)", tapped(x, y), by, value), nil
}

func (t *Tools) tap(ctx context.Context, x, y int) error {
	_, err := t.dev.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y))
	return err
}

func (t *Tools) longPress(ctx context.Context, x, y int) error {
	_, err := t.dev.Shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d", x, y, x, y, longPressMs))
	return err
}

func (t *Tools) inputText(ctx context.Context, text string) error {
	_, err := t.dev.Shell(ctx, "input text "+shellQuote(strings.ReplaceAll(text, " ", "%s")))
	return err
}

func (t *Tools) findClose(ctx context.Context) (*Element, error) {
	elements, err := t.dump(ctx)
	if err != nil {
		return nil, err
	}
	for _, label := range closeLabels {
		for _, e := range elements {
			if e.Text == label || e.ContentDesc == label {
				return e, nil
			}
		}
	}
	return nil, fmt.Errorf("no close button on screen")
}

func closeSomething(ctx context.Context, t *Tools, _ args) (string, error) {
	e, err := t.findClose(ctx)
	if err != nil {
		return "", err
	}
	x, y := e.Bounds.Center()
	if err := t.tap(ctx, x, y); err != nil {
		return "", err
	}
	return fmt.Sprintf("closed via %q", e.Label()), nil
}

// screenSize parses `wm size`; an override size wins over the physical one.
func (t *Tools) screenSize(ctx context.Context) (int, int, error) {
	out, err := t.dev.Shell(ctx, "wm size")
	if err != nil {
		return 0, 0, err
	}
	var w, h int
	for _, line := range strings.Split(out, "\n") {
		_, size, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		var lw, lh int
		if _, err := fmt.Sscanf(strings.TrimSpace(size), "%dx%d", &lw, &lh); err == nil {
			w, h = lw, lh
		}
	}
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("cannot parse screen size from %q", strings.TrimSpace(out))
	}
	return w, h, nil
}

func (t *Tools) percent(ctx context.Context, xp, yp float64) (int, int, error) {
	if xp < 0 || xp > 100 || yp < 0 || yp > 100 {
		return 0, 0, fmt.Errorf("percentages must be between 0 and 100")
	}
	w, h, err := t.screenSize(ctx)
	if err != nil {
		return 0, 0, err
	}
	return int(float64(w) * xp / 100), int(float64(h) * yp / 100), nil
}

func swipeLine(direction string, w, h int) (x1, y1, x2, y2 int, err error) {
	cx, cy := w/2, h/2
	switch strings.ToLower(direction) {
	case "up":
		return cx, h * 7 / 10, cx, h * 3 / 10, nil
	case "down":
		return cx, h * 3 / 10, cx, h * 7 / 10, nil
	case "left":
		return w * 8 / 10, cy, w * 2 / 10, cy, nil
	case "right":
		return w * 2 / 10, cy, w * 8 / 10, cy, nil
	}
	return 0, 0, 0, 0, fmt.Errorf("unknown swipe direction %q", direction)
}

func keyCode(key string) (int, error) {
	if code, ok := keyCodes[strings.ToLower(key)]; ok {
		return code, nil
	}
	if code, err := strconv.Atoi(key); err == nil && code >= 0 {
		return code, nil
	}
	return 0, fmt.Errorf("unknown key %q", key)
}

func tapped(x, y int) string {
	return fmt.Sprintf("tapped (%d, %d)", x, y)
}

// shellQuote quotes s for the device shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
