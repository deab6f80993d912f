package executor

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/logger"
)

// Explicit judgement phrases the setup instruction asks the model to use.
var (
	preconditionFailPhrases = []string{
		"前置条件不满足", "不满足", "未满足", "前置条件失败",
		"not met", "precondition failed", "preconditions failed",
	}
	preconditionPassPhrases = []string{
		"前置条件满足", "precondition met", "preconditions met", "preconditions are met",
	}
)

// Keyword fallback used when the model gave no explicit judgement. This is
// a best-effort heuristic over free text.
var (
	closedStatePhrases  = []string{"关闭", "closed", "not running"}
	openStatePhrases    = []string{"已打开", "打开状态", "is open", "opened", "in the foreground"}
	runningIndicators   = []string{"running", "foreground", "正在运行", "已启动", "活动中"}
	notRunningPhrases   = []string{"not running", "isn't running", "not in the foreground", "未运行", "未启动", "stopped", "已停止", "not found"}
	runningNegationCuts = []string{"not running", "isn't running", "not in the foreground", "未运行"}
)

// checkPreconditions decides whether the setup evidence in recent shows an
// unmet precondition. It returns the failure reason, or "" when the
// preconditions hold.
//
// An explicit judgement in the model's own text-only replies wins. Without
// one, each precondition is matched against tool output by keyword.
func (m *Machine) checkPreconditions(recent []llms.MessageContent) string {
	toolTexts, modelTexts := evidence(recent)
	modelText := strings.ToLower(strings.Join(modelTexts, " "))

	if matched := matchedKeywords(modelText, preconditionFailPhrases); len(matched) > 0 {
		reason := strings.Join(matched, ", ")
		if len(modelTexts) > 0 {
			reason = truncate(modelTexts[len(modelTexts)-1], 300)
		}
		logger.Info("[SETUP] model judged preconditions unmet: %v", matched)
		return "preconditions not met (model judgement): " + reason
	}
	if containsAny(modelText, preconditionPassPhrases) {
		logger.Info("[SETUP] model judged preconditions met")
		return ""
	}

	toolText := strings.ToLower(strings.Join(toolTexts, " "))
	allText := strings.ToLower(strings.Join(append(toolTexts, modelTexts...), " "))
	pkg := strings.ToLower(m.tc.AppPackage)

	for _, pre := range m.tc.Preconditions {
		p := strings.ToLower(pre)
		switch {
		case containsAny(p, closedStatePhrases):
			if pkg != "" && strings.Contains(toolText, pkg) {
				return fmt.Sprintf("precondition %q not met: %s is present in the device output", pre, m.tc.AppPackage)
			}
			if hits := matchedKeywords(stripPhrases(allText, runningNegationCuts), runningIndicators); len(hits) > 0 {
				return fmt.Sprintf("precondition %q not met: app appears to be running (matched %v)", pre, hits)
			}
		case containsAny(p, openStatePhrases):
			if hits := matchedKeywords(allText, notRunningPhrases); len(hits) > 0 {
				return fmt.Sprintf("precondition %q not met: app does not appear to be running (matched %v)", pre, hits)
			}
		}
	}

	logger.Debug("[SETUP] no precondition keyword matched, treating preconditions as met")
	return ""
}

// stripPhrases removes negated forms so that "not running" does not count
// as "running".
func stripPhrases(s string, phrases []string) string {
	for _, p := range phrases {
		s = strings.ReplaceAll(s, p, " ")
	}
	return s
}

// checkVerification passes when no verifications are declared, or when any
// declared verification appears literally in the recent tool output and
// model replies.
func (m *Machine) checkVerification(recent []llms.MessageContent) bool {
	if len(m.tc.Verifications) == 0 {
		return true
	}
	var texts []string
	for _, msg := range recent {
		if msg.Role == llms.ChatMessageTypeTool || msg.Role == llms.ChatMessageTypeAI {
			texts = append(texts, MessageText(msg))
		}
	}
	combined := strings.Join(texts, " ")
	for _, v := range m.tc.Verifications {
		if strings.Contains(combined, v) {
			logger.Info("[VERIFYING] found %q in recent messages", v)
			return true
		}
	}
	return false
}
