package executor

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

func human(text string) llms.MessageContent {
	return llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(text)}}
}

// ai builds a model message with optional text and one tool call per name.
func ai(text string, tools ...string) llms.MessageContent {
	var parts []llms.ContentPart
	if text != "" {
		parts = append(parts, llms.TextContent{Text: text})
	}
	for i, name := range tools {
		parts = append(parts, llms.ToolCall{
			ID:           fmt.Sprintf("call_%d_%s", i, name),
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: "{}"},
		})
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func toolResult(name, content string) llms.MessageContent {
	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: "call_" + name,
			Name:       name,
			Content:    content,
		}},
	}
}

// conversation applies deltas the way a runtime would.
type conversation struct {
	m     *Machine
	state ExecutionState
	msgs  []llms.MessageContent
}

func newConversation(raw string) *conversation {
	tc := testcase.Parse(raw)
	return &conversation{
		m:     New(tc, Options{}),
		state: NewState(),
		msgs:  []llms.MessageContent{human("run the test")},
	}
}

func (c *conversation) turn(msgs ...llms.MessageContent) *Delta {
	c.msgs = append(c.msgs, msgs...)
	d := c.m.AfterModelCall(c.state, c.msgs)
	if d != nil {
		if d.ModelMessage != nil {
			if i, ok := lastModelMessage(c.msgs); ok {
				c.msgs[i] = *d.ModelMessage
			}
		}
		c.msgs = append(c.msgs, d.Messages...)
	}
	c.state = d.Apply(c.state)
	return d
}

// passSetup drives the conversation through a successful setup check.
func (c *conversation) passSetup() {
	c.turn(ai("", "mobile_list_devices"))
	c.turn(toolResult("mobile_list_devices", "device 4XWW6XFAA6OJIBJB online"), ai("Preconditions met"))
}

// stepOK performs one step whose tool call succeeds.
func (c *conversation) stepOK(tool string) *Delta {
	c.turn(ai("", tool))
	return c.turn(toolResult(tool, "ok"), ai("done"))
}
