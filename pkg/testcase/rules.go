package testcase

import (
	"regexp"
	"strconv"
	"strings"
)

// Quote glyphs accepted around literal text. Each opening glyph has its
// closing counterpart in quoteClose.
const (
	quoteOpen  = `['"“‘「『]`
	quoteClose = `['"”’」』]`
	quoted     = quoteOpen + `(.+?)` + quoteClose
)

// rule recognises one action kind. The first pattern that matches wins and
// its submatches are handed to build.
type rule struct {
	action   ActionKind
	patterns []*regexp.Regexp
	build    func(m []string) (target string, params map[string]any)
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func noParams([]string) (string, map[string]any) {
	return "", nil
}

// rules is evaluated top to bottom. Specific phrasings come first; the
// generic click rule must stay last or it would shadow everything else.
var rules = []rule{
	{
		action: ActionWait,
		patterns: patterns(
			`等待\s*(\d+(?:\.\d+)?)\s*秒`,
			`(?i)\bwait(?:\s+for)?\s*(\d+(?:\.\d+)?)\s*(?:s|secs?|seconds?)\b`,
		),
		build: func(m []string) (string, map[string]any) {
			d, _ := strconv.ParseFloat(m[1], 64)
			return "", map[string]any{"duration": d}
		},
	},
	{
		action: ActionCloseAd,
		patterns: patterns(
			`关闭广告`,
			`(?i)\bclose\s+(?:the\s+)?(?:ad|ads|advert|advertisement)\b`,
		),
		build: noParams,
	},
	{
		action: ActionClosePopup,
		patterns: patterns(
			`关闭弹窗`,
			`(?i)\b(?:close|dismiss)\s+(?:the\s+)?(?:popup|pop-up|dialog)\b`,
		),
		build: noParams,
	},
	{
		action: ActionStartToastListener,
		patterns: patterns(
			`开始监听\s*[Tt]oast`,
			`(?i)\b(?:start\s+)?(?:listen(?:ing)?|watch(?:ing)?)\s+(?:for\s+)?toasts?\b`,
		),
		build: noParams,
	},
	{
		action: ActionVerifyToast,
		patterns: patterns(
			`验证\s*[Tt]oast\s*包含\s*`+quoted,
			`(?i)\bverify\s+(?:the\s+)?toast\s+contains?\s*`+quoted,
		),
		build: func(m []string) (string, map[string]any) {
			return "", map[string]any{"contains": m[1]}
		},
	},
	{
		action: ActionScreenshot,
		patterns: patterns(
			`截[图屏]`,
			`(?i)\b(?:take\s+(?:a\s+)?)?screenshot\b`,
		),
		build: noParams,
	},
	{
		action: ActionBack,
		patterns: patterns(
			`^返回$|按返回键|点击返回`,
			`(?i)^(?:go\s+)?back$|\bpress\s+(?:the\s+)?back\b`,
		),
		build: func([]string) (string, map[string]any) {
			return "", map[string]any{"key": "back"}
		},
	},
	{
		action: ActionHome,
		patterns: patterns(
			`回到桌面|按\s*[Hh]ome\s*键`,
			`(?i)\b(?:go\s+(?:to\s+)?home|press\s+(?:the\s+)?home)\b`,
		),
		build: func([]string) (string, map[string]any) {
			return "", map[string]any{"key": "home"}
		},
	},
	{
		action: ActionSwipeUp,
		patterns: patterns(
			`上滑|向上滑动`,
			`(?i)\bswipe\s+up\b`,
		),
		build: func([]string) (string, map[string]any) {
			return "", map[string]any{"direction": "up"}
		},
	},
	{
		action: ActionSwipeDown,
		patterns: patterns(
			`下滑|向下滑动`,
			`(?i)\bswipe\s+down\b`,
		),
		build: func([]string) (string, map[string]any) {
			return "", map[string]any{"direction": "down"}
		},
	},
	{
		action: ActionSwipe,
		patterns: patterns(
			`向?([左右])滑`,
			`(?i)\bswipe\s+(left|right)\b`,
		),
		build: func(m []string) (string, map[string]any) {
			dir := strings.ToLower(m[1])
			switch dir {
			case "左":
				dir = "left"
			case "右":
				dir = "right"
			}
			return "", map[string]any{"direction": dir}
		},
	},
	{
		action: ActionInputText,
		patterns: patterns(
			`输入\s*`+quoted,
			`(?i)\b(?:input|type|enter)\s*`+quoted,
		),
		build: func(m []string) (string, map[string]any) {
			return m[1], map[string]any{"text": m[1]}
		},
	},
	{
		action: ActionLaunchApp,
		patterns: patterns(
			`(?:启动|打开)\s*[Aa][Pp][Pp]`,
			`(?i)\b(?:launch|open|start)\s+(?:the\s+)?app\b`,
		),
		build: noParams,
	},
	{
		action: ActionListElements,
		patterns: patterns(
			`(?:查看|获取|列出)元素`,
			`(?i)\b(?:list|get|dump)\s+(?:the\s+)?(?:ui\s+|screen\s+)?elements\b`,
		),
		build: noParams,
	},
	{
		action: ActionAssertElement,
		patterns: patterns(
			`验证.*?(?:存在|显示|出现)\s*`+quoted,
			`(?i)\b(?:verify|assert)\s+(?:that\s+)?`+quoted+`\s+(?:exists|is\s+(?:shown|visible|displayed))`,
		),
		build: func(m []string) (string, map[string]any) {
			return m[1], map[string]any{"element_text": m[1]}
		},
	},
	{
		action: ActionClickByID,
		patterns: patterns(
			`(?:通过|使用)\s*[Ii][Dd]\s*点击\s*`+quoted,
			`(?i)\b(?:click|tap)\s+(?:by\s+)?id\s*`+quoted,
		),
		build: func(m []string) (string, map[string]any) {
			return m[1], map[string]any{"resource_id": m[1]}
		},
	},
	{
		action: ActionLongPress,
		patterns: patterns(
			`长按\s*(.+)`,
			`(?i)\blong[\s-]?press\s+(?:on\s+)?(.+)`,
		),
		build: func(m []string) (string, map[string]any) {
			return cleanTarget(m[1]), nil
		},
	},
	{
		action: ActionClick,
		patterns: patterns(
			`点击\s*(.+)`,
			`(?i)\b(?:click|tap)(?:\s+on)?\s+(.+)`,
		),
		build: func(m []string) (string, map[string]any) {
			return cleanTarget(m[1]), nil
		},
	},
}

var wholeQuoted = regexp.MustCompile(`^` + quoteOpen + `(.+)` + quoteClose + `$`)

// cleanTarget trims a free-text target and drops quotes wrapping all of it.
func cleanTarget(s string) string {
	s = strings.TrimSpace(s)
	if m := wholeQuoted.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ParseStep classifies a single step text. Text matching no rule becomes a
// click whose target is the whole text.
func ParseStep(index int, text string) TestStep {
	text = strings.TrimSpace(text)
	for _, r := range rules {
		for _, re := range r.patterns {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			target, params := r.build(m)
			return TestStep{
				Index:    index,
				Action:   r.action,
				RawText:  text,
				Target:   target,
				Params:   params,
				ToolHint: r.action.DefaultTool(),
			}
		}
	}
	return TestStep{
		Index:    index,
		Action:   ActionClick,
		RawText:  text,
		Target:   cleanTarget(text),
		ToolHint: ActionClick.DefaultTool(),
	}
}
