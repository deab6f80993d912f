package testcase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const switchAccountCase = "测试任务名称：切换账号\t\n" +
	"前置条件：App已安装,用户已登录；网络正常\t\n" +
	"测试步骤：\n" +
	"1. 等待2秒\n" +
	"2. 关闭弹窗\n" +
	"3. 点击我的\n" +
	"4. 输入\"13800138000\"\n" +
	"5. 验证Toast包含\"切换成功\"\n" +
	"验证点：Toast提示\"账号切换成功\"\t是\t\tcom.qiyi.video.lite\t4XWW6XFAA6OJIBJB"

func TestParse_TabSeparatedCase(t *testing.T) {
	tc := Parse(switchAccountCase)

	assert.Equal(t, "切换账号", tc.Name)
	assert.Equal(t, []string{"App已安装", "用户已登录", "网络正常"}, tc.Preconditions)
	assert.Equal(t, []string{"账号切换成功"}, tc.Verifications)
	assert.Equal(t, "com.qiyi.video.lite", tc.AppPackage)
	assert.Equal(t, "4XWW6XFAA6OJIBJB", tc.DeviceSerial)

	require.Len(t, tc.Steps, 5)
	want := []struct {
		action ActionKind
		target string
		hint   string
	}{
		{ActionWait, "", "mobile_wait"},
		{ActionClosePopup, "", "mobile_close_popup"},
		{ActionClick, "我的", "mobile_click_by_text"},
		{ActionInputText, "13800138000", "mobile_input_text_by_id"},
		{ActionVerifyToast, "", "mobile_get_toast"},
	}
	for i, w := range want {
		s := tc.Steps[i]
		assert.Equal(t, i+1, s.Index, "step %d index", i)
		assert.Equal(t, w.action, s.Action, "step %d action", i)
		assert.Equal(t, w.target, s.Target, "step %d target", i)
		assert.Equal(t, w.hint, s.ToolHint, "step %d hint", i)
	}
	assert.Equal(t, 2.0, tc.Steps[0].Params["duration"])
	assert.Equal(t, "13800138000", tc.Steps[3].Params["text"])
	assert.Equal(t, "切换成功", tc.Steps[4].Params["contains"])
}

func TestParse_EmptyText(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\n", "随便写点什么"} {
		tc := Parse(raw)
		assert.Equal(t, DefaultName, tc.Name)
		assert.Empty(t, tc.Steps)
		assert.NotNil(t, tc.Preconditions)
		assert.Empty(t, tc.Preconditions)
		assert.NotNil(t, tc.Verifications)
		assert.Empty(t, tc.Verifications)
	}
}

func TestParse_ClickStep(t *testing.T) {
	tc := Parse("1. 点击我的")
	require.Len(t, tc.Steps, 1)
	s := tc.Steps[0]
	assert.Equal(t, ActionClick, s.Action)
	assert.Equal(t, "我的", s.Target)
	assert.Equal(t, "mobile_click_by_text", s.ToolHint)
	assert.Equal(t, "点击我的", s.RawText)
}

func TestParse_PackageDigitsNotSteps(t *testing.T) {
	raw := "打开 com.im30.way 并检查\n启动参数 com.im30.way\t\n"
	tc := Parse(raw)
	assert.Empty(t, tc.Steps)
	assert.Equal(t, "com.im30.way", tc.AppPackage)

	tc = Parse("1. 打开App\n包名：com.im30.way")
	require.Len(t, tc.Steps, 1)
	assert.Equal(t, ActionLaunchApp, tc.Steps[0].Action)
	assert.Equal(t, "com.im30.way", tc.AppPackage)
}

func TestParse_IndicesContiguous(t *testing.T) {
	raw := "3. 点击A\n\n7. 点击B\n  12. 点击C\n1.\n"
	tc := Parse(raw)
	require.Len(t, tc.Steps, 3)
	for i, s := range tc.Steps {
		assert.Equal(t, i+1, s.Index)
	}
	assert.Equal(t, "C", tc.Steps[2].Target)
}

func TestParse_EmptyNumberDoesNotSwallowNextLine(t *testing.T) {
	tc := Parse("1.\n2. 点击设置")
	require.Len(t, tc.Steps, 1)
	assert.Equal(t, "设置", tc.Steps[0].Target)
}

func TestParse_LooseNumberingFallback(t *testing.T) {
	raw := "1、点击首页\n2) 上滑\n3．截图"
	tc := Parse(raw)
	require.Len(t, tc.Steps, 3)
	assert.Equal(t, ActionClick, tc.Steps[0].Action)
	assert.Equal(t, "首页", tc.Steps[0].Target)
	assert.Equal(t, ActionSwipeUp, tc.Steps[1].Action)
	assert.Equal(t, ActionScreenshot, tc.Steps[2].Action)
}

func TestParse_CRLF(t *testing.T) {
	tc := Parse("测试任务名称：登录\r\n1. 点击登录\r\n2. 返回\r\n")
	assert.Equal(t, "登录", tc.Name)
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, ActionBack, tc.Steps[1].Action)
}

func TestParse_EnglishLabels(t *testing.T) {
	raw := "Name: Login flow\n" +
		"Preconditions: app installed; user logged out\n" +
		"Package: com.example.shop\n" +
		"Device: emulator-5554\n" +
		"1. launch the app\n" +
		"2. tap on \"Sign in\"\n" +
		"3. type \"alice\"\n" +
		"4. wait 1.5s\n" +
		"Verifications: \"Welcome\", \"Home\"\n"
	tc := Parse(raw)

	assert.Equal(t, "Login flow", tc.Name)
	assert.Equal(t, []string{"app installed", "user logged out"}, tc.Preconditions)
	assert.Equal(t, "com.example.shop", tc.AppPackage)
	assert.Equal(t, "emulator-5554", tc.DeviceSerial)
	assert.Equal(t, []string{"Welcome", "Home"}, tc.Verifications)

	require.Len(t, tc.Steps, 4)
	assert.Equal(t, ActionLaunchApp, tc.Steps[0].Action)
	assert.Equal(t, ActionClick, tc.Steps[1].Action)
	assert.Equal(t, "Sign in", tc.Steps[1].Target)
	assert.Equal(t, ActionInputText, tc.Steps[2].Action)
	assert.Equal(t, "alice", tc.Steps[2].Params["text"])
	assert.Equal(t, ActionWait, tc.Steps[3].Action)
	assert.Equal(t, 1.5, tc.Steps[3].Params["duration"])
}

func TestParse_SerialHeuristics(t *testing.T) {
	assert.Equal(t, "ABCDEF123456", Parse("1. 点击A\nABCDEF123456\n").DeviceSerial)
	assert.Equal(t, "", Parse("1. 点击A\nabcdef123456").DeviceSerial)
	assert.Equal(t, "", Parse("1. 点击ABC").DeviceSerial)
}

func TestParseStep_Rules(t *testing.T) {
	tests := []struct {
		text   string
		action ActionKind
		target string
		params map[string]any
	}{
		{"等待3秒", ActionWait, "", map[string]any{"duration": 3.0}},
		{"等待 0.5 秒", ActionWait, "", map[string]any{"duration": 0.5}},
		{"关闭广告", ActionCloseAd, "", nil},
		{"点击关闭弹窗", ActionClosePopup, "", nil},
		{"开始监听toast", ActionStartToastListener, "", nil},
		{"验证Toast包含「已保存」", ActionVerifyToast, "", map[string]any{"contains": "已保存"}},
		{"截屏", ActionScreenshot, "", nil},
		{"返回", ActionBack, "", map[string]any{"key": "back"}},
		{"点击返回", ActionBack, "", map[string]any{"key": "back"}},
		{"按Home键", ActionHome, "", map[string]any{"key": "home"}},
		{"向上滑动", ActionSwipeUp, "", map[string]any{"direction": "up"}},
		{"下滑", ActionSwipeDown, "", map[string]any{"direction": "down"}},
		{"向左滑动", ActionSwipe, "", map[string]any{"direction": "left"}},
		{"swipe right", ActionSwipe, "", map[string]any{"direction": "right"}},
		{"输入“hello”", ActionInputText, "hello", map[string]any{"text": "hello"}},
		{"启动App", ActionLaunchApp, "", nil},
		{"获取元素", ActionListElements, "", nil},
		{"验证页面显示『登录』", ActionAssertElement, "登录", map[string]any{"element_text": "登录"}},
		{"通过ID点击\"btn_ok\"", ActionClickByID, "btn_ok", map[string]any{"resource_id": "btn_ok"}},
		{"长按头像", ActionLongPress, "头像", nil},
		{"点击‘设置’", ActionClick, "设置", nil},
		{"打开设置页", ActionClick, "打开设置页", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			s := ParseStep(1, tt.text)
			assert.Equal(t, tt.action, s.Action)
			assert.Equal(t, tt.target, s.Target)
			assert.Equal(t, tt.action.DefaultTool(), s.ToolHint)
			if tt.params == nil {
				assert.Empty(t, s.Params)
			} else {
				assert.Equal(t, tt.params, s.Params)
			}
		})
	}
}

func TestParseStep_InputBeatsClick(t *testing.T) {
	s := ParseStep(1, "点击搜索框并输入\"咖啡\"")
	assert.Equal(t, ActionInputText, s.Action)
	assert.Equal(t, "咖啡", s.Target)
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
name: Search
preconditions:
  - App已安装
steps:
  - 点击搜索
  - ""
  - 输入"咖啡"
verifications:
  - 结果"咖啡"
appPackage: com.example.shop
device: 4XWW6XFAA6OJIBJB
`)
	tc, err := ParseYAML(data, "search.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Search", tc.Name)
	assert.Equal(t, []string{"App已安装"}, tc.Preconditions)
	assert.Equal(t, []string{"咖啡"}, tc.Verifications)
	assert.Equal(t, "4XWW6XFAA6OJIBJB", tc.DeviceSerial)
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, 2, tc.Steps[1].Index)
	assert.Equal(t, ActionInputText, tc.Steps[1].Action)
}

func TestParseYAML_Errors(t *testing.T) {
	_, err := ParseYAML([]byte(""), "empty.yaml")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "empty.yaml", pe.Path)

	_, err = ParseYAML([]byte("- a\n- b\n"), "list.yaml")
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "mapping")

	_, err = ParseYAML([]byte("steps: {a: b}\n"), "bad.yaml")
	require.ErrorAs(t, err, &pe)

	_, err = ParseYAML([]byte("name: [unclosed\n"), "broken.yaml")
	require.Error(t, err)
}

func TestParseError_Error(t *testing.T) {
	assert.Equal(t, "a.yaml:3: boom", (&ParseError{Path: "a.yaml", Line: 3, Message: "boom"}).Error())
	assert.Equal(t, "a.yaml: boom", (&ParseError{Path: "a.yaml", Message: "boom"}).Error())
}

func TestParseFile_AndDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("1. 点击我的\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: A\nsteps: [截图]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("1. 点击X"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	tc, err := ParseFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.txt"), tc.SourcePath)
	require.Len(t, tc.Steps, 1)

	cases, err := ParseDirectory(dir)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "A", cases[0].Name)
	assert.Equal(t, ActionScreenshot, cases[0].Steps[0].Action)
	assert.Equal(t, DefaultName, cases[1].Name)

	_, err = ParseFile(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
	_, err = ParseDirectory(filepath.Join(dir, "nope"))
	assert.Error(t, err)
}
