package executor

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// errorKeywords mark a tool result as failed. Matching is case-insensitive.
var errorKeywords = []string{
	"error", "exception", "timeout", "not found",
	"失败", "无法", "错误", "未找到", "超时",
}

// IsErrorText reports whether a tool result reads like a failure.
func IsErrorText(s string) bool {
	return containsAny(strings.ToLower(s), errorKeywords)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func matchedKeywords(s string, needles []string) []string {
	var out []string
	for _, n := range needles {
		if strings.Contains(s, n) {
			out = append(out, n)
		}
	}
	return out
}

// recent returns the last n messages.
func recent(messages []llms.MessageContent, n int) []llms.MessageContent {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

// lastModelMessage returns the index of the newest model message.
func lastModelMessage(messages []llms.MessageContent) (int, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.ChatMessageTypeAI {
			return i, true
		}
	}
	return -1, false
}

// ToolCalls returns the tool calls carried by msg.
func ToolCalls(msg llms.MessageContent) []llms.ToolCall {
	var out []llms.ToolCall
	for _, p := range msg.Parts {
		switch tc := p.(type) {
		case llms.ToolCall:
			out = append(out, tc)
		case *llms.ToolCall:
			if tc != nil {
				out = append(out, *tc)
			}
		}
	}
	return out
}

func toolCallName(tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Name
}

// dedupeToolCalls drops every tool call whose name already appeared earlier
// in msg. Other parts keep their order. The second result is false when
// nothing was dropped.
func dedupeToolCalls(msg llms.MessageContent) (llms.MessageContent, bool) {
	if len(ToolCalls(msg)) < 2 {
		return msg, false
	}
	seen := make(map[string]bool)
	parts := make([]llms.ContentPart, 0, len(msg.Parts))
	dropped := false
	for _, p := range msg.Parts {
		var name string
		isCall := false
		switch tc := p.(type) {
		case llms.ToolCall:
			name, isCall = toolCallName(tc), true
		case *llms.ToolCall:
			if tc != nil {
				name, isCall = toolCallName(*tc), true
			}
		}
		if isCall {
			if seen[name] {
				dropped = true
				continue
			}
			seen[name] = true
		}
		parts = append(parts, p)
	}
	if !dropped {
		return msg, false
	}
	return llms.MessageContent{Role: msg.Role, Parts: parts}, true
}

// MessageText concatenates the textual content of msg, including tool
// result bodies.
func MessageText(msg llms.MessageContent) string {
	var texts []string
	for _, p := range msg.Parts {
		switch v := p.(type) {
		case llms.TextContent:
			texts = append(texts, v.Text)
		case *llms.TextContent:
			if v != nil {
				texts = append(texts, v.Text)
			}
		case llms.ToolCallResponse:
			texts = append(texts, v.Content)
		case *llms.ToolCallResponse:
			if v != nil {
				texts = append(texts, v.Content)
			}
		}
	}
	return strings.Join(texts, "\n")
}

func hasToolResult(messages []llms.MessageContent) bool {
	for _, m := range messages {
		if m.Role == llms.ChatMessageTypeTool {
			return true
		}
	}
	return false
}

// lastStepToolResult finds the newest tool result produced for the current
// step. The scan runs newest-first and stops at the newest human message,
// which is the instruction that opened the step, so results credited to an
// earlier step are never reused.
func lastStepToolResult(messages []llms.MessageContent) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case llms.ChatMessageTypeTool:
			return MessageText(messages[i]), true
		case llms.ChatMessageTypeHuman:
			return "", false
		}
	}
	return "", false
}

// evidence splits recent messages into tool output and the model's plain
// replies (model messages without tool calls).
func evidence(messages []llms.MessageContent) (tool, model []string) {
	for _, m := range messages {
		switch m.Role {
		case llms.ChatMessageTypeTool:
			tool = append(tool, MessageText(m))
		case llms.ChatMessageTypeAI:
			if len(ToolCalls(m)) == 0 {
				model = append(model, MessageText(m))
			}
		}
	}
	return tool, model
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
